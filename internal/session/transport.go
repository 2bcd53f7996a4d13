package session

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Transport carries frames for one session. Reads and writes may happen on
// different goroutines, but there is at most one reader and one writer.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
	RemoteAddr() string
}

// Upgrader takes over an HTTP request and returns the session transport
// running on it.
type Upgrader func(http.ResponseWriter, *http.Request) (Transport, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// mobile controllers send no Origin or an arbitrary one
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsTransport struct {
	conn *websocket.Conn
}

// Upgrade turns an HTTP request into a websocket Transport. The controller
// may open the session with POST, which the websocket handshake does not
// accept, so the request is replayed as GET.
func Upgrade(w http.ResponseWriter, r *http.Request) (Transport, error) {
	if r.Method != http.MethodGet {
		r = r.Clone(r.Context())
		r.Method = http.MethodGet
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	var f Frame
	err := t.conn.ReadJSON(&f)
	return f, err
}

func (t *wsTransport) WriteFrame(f Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Close() error { return t.conn.Close() }

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// isClosed reports whether err is a normal end of the websocket stream.
func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
