// Package session implements the control-session hub behind /projection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/monitoring"
)

const sendBuffer = 32

// Dispatcher receives decoded playback commands. Dispatch must not block.
type Dispatcher interface {
	Dispatch(cmd model.CastCommand)
}

// Danmaku toggles comment overlay display.
type Danmaku interface {
	SetDanmaku(open bool)
}

// Session is one open control session. The hub owns it; a session only
// knows its id and transport.
type Session struct {
	ID string

	transport    Transport
	send         chan Frame
	done         chan struct{}
	closeOnce    sync.Once
	lastActivity atomic.Int64
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// enqueue hands f to the session writer. A full queue means the peer stopped
// reading and is reported as failure.
func (s *Session) enqueue(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

type Hub struct {
	dispatcher Dispatcher
	danmaku    Danmaku
	volume     func() int
	metrics    *monitoring.Metrics
	upgrade    Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Hub)

// WithVolume sets the source of the GetVolume reply.
func WithVolume(fn func() int) Option { return func(h *Hub) { h.volume = fn } }

func WithMetrics(m *monitoring.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// WithUpgrader replaces the websocket upgrade used by Handler.
func WithUpgrader(u Upgrader) Option { return func(h *Hub) { h.upgrade = u } }

func NewHub(d Dispatcher, dm Danmaku, opts ...Option) *Hub {
	h := &Hub{
		dispatcher: d,
		danmaku:    dm,
		volume:     func() int { return 30 },
		upgrade:    Upgrade,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open registers a session for t and starts its writer.
func (h *Hub) Open(t Transport) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		transport: t,
		send:      make(chan Frame, sendBuffer),
		done:      make(chan struct{}),
	}
	s.touch()

	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetLiveSessions(n)
	log.Info("session connected id=%s remote=%s", s.ID, t.RemoteAddr())

	go h.writeLoop(s)
	return s
}

// Close removes s and closes its transport. Closing twice is a no-op.
func (h *Hub) Close(s *Session) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.transport.Close()

		h.mu.Lock()
		delete(h.sessions, s.ID)
		n := len(h.sessions)
		h.mu.Unlock()

		h.metrics.SetLiveSessions(n)
		log.Info("session disconnected id=%s", s.ID)
	})
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		h.Close(s)
	}
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) snapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Serve runs a session over t until the peer goes away or ctx is done.
func (h *Hub) Serve(ctx context.Context, t Transport) {
	s := h.Open(t)
	defer h.Close(s)

	stop := context.AfterFunc(ctx, func() { h.Close(s) })
	defer stop()

	for {
		f, err := t.ReadFrame()
		if err != nil {
			if !isClosed(err) && !errors.Is(err, io.EOF) {
				log.Debug("session %s read fail: %s", s.ID, err)
			}
			return
		}
		s.touch()
		h.HandleFrame(s, f)
	}
}

// Handler upgrades the request and serves the resulting session.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := h.upgrade(w, r)
		if err != nil {
			log.CtxDebug(r.Context(), "projection upgrade fail: %s", err)
			return
		}
		h.Serve(context.WithoutCancel(r.Context()), t)
	}
}

func (h *Hub) writeLoop(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			if err := s.transport.WriteFrame(f); err != nil {
				log.Debug("session %s write fail: %s", s.ID, err)
				h.metrics.RecordError("session")
				h.Close(s)
				return
			}
		}
	}
}

// HandleFrame decodes one inbound frame, dispatches it and replies.
// Unknown actions and malformed bodies are acknowledged, never fatal.
func (h *Hub) HandleFrame(s *Session, f Frame) {
	if f.Type != "" && f.Type != FrameCommand {
		log.Debug("session %s ignore %s frame action=%s", s.ID, f.Type, f.Action)
		return
	}
	h.metrics.RecordControlFrame(f.Action)

	var body json.RawMessage
	switch f.Action {
	case "GetVolume":
		body, _ = json.Marshal(map[string]int{"volume": h.volume()})
	case "Play":
		h.handlePlay(f.Body)
	case "Pause":
		h.dispatch(model.Pause())
	case "Resume":
		h.dispatch(model.Resume())
	case "Stop":
		h.dispatch(model.Stop())
	case "Seek":
		h.dispatch(model.Seek(floatField(f.Body, "seekTs")))
	case "SwitchDanmaku":
		if h.danmaku != nil {
			h.danmaku.SetDanmaku(boolField(f.Body, "open"))
		}
	case "PlayUrl":
		h.handlePlayURL(s, f.Body)
	default:
		log.Debug("session %s unhandled action: %s", s.ID, f.Action)
	}

	if !s.enqueue(reply(f, body)) {
		h.Close(s)
	}
}

func (h *Hub) handlePlay(body []byte) {
	if room := intField(body, "roomId"); room > 0 {
		h.dispatch(model.PlayLive(room))
		return
	}
	h.dispatch(model.PlayContent(model.VideoMetadata{
		ContentID: intField(body, "aid"),
		PartID:    intField(body, "cid"),
		EpisodeID: intField(body, "epid"),
		Title:     stringField(body, "title"),
	}))
}

func (h *Hub) handlePlayURL(s *Session, body []byte) {
	raw := stringField(body, "url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil {
		log.Debug("session %s PlayUrl without usable url: %s", s.ID, string(body))
		return
	}
	ext := u.Query().Get("nva_ext")
	content := objectField([]byte(ext), "content")
	if ext == "" || content == nil {
		log.Debug("session %s PlayUrl missing nva_ext content: %s", s.ID, raw)
		return
	}
	h.handlePlay(content)
}

func (h *Hub) dispatch(cmd model.CastCommand) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Dispatch(cmd)
}

// Broadcast pushes an event frame to every open session and returns how
// many accepted it. Sessions that cannot accept it are closed.
func (h *Hub) Broadcast(action string, payload any) int {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal %s payload fail: %s", action, err)
		return 0
	}
	f := Frame{Type: FrameEvent, Action: action, Body: body}

	sent := 0
	for _, s := range h.snapshot() {
		if s.enqueue(f) {
			sent++
			continue
		}
		h.Close(s)
	}
	return sent
}

func (h *Hub) BroadcastPlayState(st model.PlayState) int {
	log.Debug("send status: %s", st)
	return h.Broadcast(ActionPlayState, map[string]int{"playState": int(st)})
}

func (h *Hub) BroadcastProgress(duration, position int) int {
	return h.Broadcast(ActionProgress, map[string]int{"duration": duration, "position": position})
}
