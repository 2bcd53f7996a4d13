package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// docs: https://mpv.io/manual/stable/#json-ipc

type MPVJSONIPCRequest struct {
	Command []any `json:"command"` // https://mpv.io/manual/stable/#list-of-input-commands

	RequestID int  `json:"request_id,omitempty"`
	Async     bool `json:"async,omitempty"`
}

type MPVJSONIPCResponse struct {
	RequestID int    `json:"request_id,omitempty"`
	Error     string `json:"error"`

	Data  any    `json:"data,omitempty"`
	Event string `json:"event,omitempty"`
	Name  string `json:"name,omitempty"`
}

const ipcTimeout = 2 * time.Second

// ipcClient talks to one mpv IPC socket. Calls are serialized.
type ipcClient struct {
	mu        sync.Mutex
	path      string
	conn      net.Conn
	reader    *bufio.Reader
	requestID int
}

func (c *ipcClient) setPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.path = path
}

func (c *ipcClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.path = ""
}

func (c *ipcClient) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.reader = nil, nil
}

// command sends one request and returns the data of its response. Events
// mpv interleaves on the socket are skipped.
func (c *ipcClient) command(ctx context.Context, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return nil, fmt.Errorf("mpv ipc socket path is empty")
	}

	c.requestID++
	id := c.requestID
	data, err := json.Marshal(MPVJSONIPCRequest{RequestID: id, Command: args})
	if err != nil {
		return nil, fmt.Errorf("marshal mpv ipc request fail: %w", err)
	}
	data = append(data, '\n')

	deadline := time.Now().Add(ipcTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var lastErr error
	// one retry after reconnecting
	for range 2 {
		if c.conn == nil {
			conn, err := net.Dial("unix", c.path)
			if err != nil {
				lastErr = fmt.Errorf("connect to mpv ipc socket fail: %w", err)
				continue
			}
			c.conn, c.reader = conn, bufio.NewReader(conn)
		}
		_ = c.conn.SetDeadline(deadline)

		if _, err := c.conn.Write(data); err != nil {
			lastErr = fmt.Errorf("writing to mpv ipc socket fail: %w", err)
			c.reset()
			continue
		}

		resp, err := c.readResponse(id)
		if err != nil {
			lastErr = err
			c.reset()
			continue
		}
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv ipc response error: %s", resp.Error)
		}
		return resp.Data, nil
	}
	return nil, lastErr
}

func (c *ipcClient) readResponse(id int) (*MPVJSONIPCResponse, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("reading from mpv ipc socket fail: %w", err)
		}
		var resp MPVJSONIPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal mpv ipc response fail: %w", err)
		}
		if resp.Event != "" || resp.RequestID != id {
			continue
		}
		return &resp, nil
	}
}
