// Package device connects to cloud TV devices and drives their playback
// over newline-delimited JSON frames on a persistent TCP connection.
package device

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/tr1v3r/pkg/log"
	"golang.org/x/sync/singleflight"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/pubsub"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCommandTimeout   = 10 * time.Second

	protocolVersion = "1.0"
	defaultClient   = "CastLink"
)

// PlaybackUpdate is a playback snapshot reported by a device.
type PlaybackUpdate struct {
	DeviceID string
	State    model.PlaybackState
}

// conn is the live session of one device.
type conn struct {
	id string
	nc net.Conn

	wmu   sync.Mutex
	ready atomic.Bool
	once  sync.Once
	done  chan struct{}

	pmu     sync.Mutex
	pending map[string]chan []byte
}

func newConn(id string, nc net.Conn) *conn {
	return &conn{id: id, nc: nc, done: make(chan struct{}), pending: make(map[string]chan []byte)}
}

func (c *conn) expect(requestID string) <-chan []byte {
	ch := make(chan []byte, 1)
	c.pmu.Lock()
	c.pending[requestID] = ch
	c.pmu.Unlock()
	return ch
}

func (c *conn) forget(requestID string) {
	c.pmu.Lock()
	delete(c.pending, requestID)
	c.pmu.Unlock()
}

// resolve hands raw to the caller waiting on requestID, if there is one.
func (c *conn) resolve(requestID string, raw []byte) bool {
	if requestID == "" {
		return false
	}
	c.pmu.Lock()
	ch, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.pmu.Unlock()
	if ok {
		ch <- raw
	}
	return ok
}

// Manager owns the device registry and one session per device id.
type Manager struct {
	handshakeTimeout time.Duration
	commandTimeout   time.Duration
	client           string
	metrics          *monitoring.Metrics

	registry *Registry
	connects singleflight.Group

	mu    sync.Mutex
	conns map[string]*conn

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	statusMu  sync.Mutex
	events    *pubsub.Topic[model.DeviceEvent]
	playbacks *pubsub.Topic[PlaybackUpdate]
}

type Option func(*Manager)

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTimeout = d
		}
	}
}

func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.commandTimeout = d
		}
	}
}

// WithClient sets the client name sent in the handshake.
func WithClient(name string) Option { return func(m *Manager) { m.client = name } }

func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		handshakeTimeout: defaultHandshakeTimeout,
		commandTimeout:   defaultCommandTimeout,
		client:           defaultClient,
		registry:         NewRegistry(),
		conns:            make(map[string]*conn),
		events:           pubsub.NewTopic[model.DeviceEvent](),
		playbacks:        pubsub.NewTopic[PlaybackUpdate](),
	}
	for _, opt := range opts {
		opt(m)
	}
	dialer := &net.Dialer{Timeout: m.handshakeTimeout}
	m.dial = dialer.DialContext
	return m
}

// Subscribe delivers every device status change.
func (m *Manager) Subscribe() (<-chan model.DeviceEvent, func()) { return m.events.Subscribe() }

// SubscribePlayback delivers every playback snapshot devices report.
func (m *Manager) SubscribePlayback() (<-chan PlaybackUpdate, func()) {
	return m.playbacks.Subscribe()
}

func (m *Manager) Device(id string) (model.Device, bool) { return m.registry.Get(id) }

func (m *Manager) Devices() []model.Device { return m.registry.List() }

// Refresh merges a discovery result into the registry and returns the ids
// of idle devices that were evicted.
func (m *Manager) Refresh(devices []model.Device) []string {
	evicted := m.registry.Refresh(devices)
	for _, id := range evicted {
		log.Debug("evict stale device %s", id)
	}
	return evicted
}

// Discoverer finds devices on the local network.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]model.Device, error)
}

// Scan runs one discovery window and merges the result into the registry.
// Idle devices that did not answer are evicted.
func (m *Manager) Scan(ctx context.Context, d Discoverer, timeout time.Duration) ([]model.Device, error) {
	found, err := d.Discover(ctx, timeout)
	if err != nil {
		return nil, err
	}
	m.Refresh(found)
	return found, nil
}

// ConnectID connects to a device already in the registry.
func (m *Manager) ConnectID(ctx context.Context, id string) error {
	dev, ok := m.registry.Get(id)
	if !ok {
		return casterr.ErrDeviceNotFound
	}
	return m.Connect(ctx, dev)
}

func (m *Manager) session(id string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[id]
}

// Connected reports whether device id has a session that passed the handshake.
func (m *Manager) Connected(id string) bool {
	c := m.session(id)
	return c != nil && c.ready.Load()
}

// Connect opens a session to dev and runs the handshake. Connecting an
// already connected device succeeds at once; concurrent calls for one device
// share a single attempt. On failure the device ends up disconnected with
// its socket closed.
func (m *Manager) Connect(ctx context.Context, dev model.Device) error {
	if dev.ID == "" {
		return casterr.ErrDeviceNotFound
	}
	_, err, _ := m.connects.Do(dev.ID, func() (any, error) {
		return nil, m.connect(ctx, dev)
	})
	return err
}

func (m *Manager) connect(ctx context.Context, dev model.Device) error {
	if m.Connected(dev.ID) {
		return nil
	}

	m.registry.Upsert(dev)
	if _, ok := m.transition(dev.ID, model.StatusConnecting, nil); !ok {
		return casterr.ConnectionFailed("device " + dev.ID + " cannot start connecting")
	}

	nc, err := m.dial(ctx, "tcp", dev.HostPort())
	if err != nil {
		log.CtxError(ctx, "connect to device %s(%s) fail: %s", dev.Name, dev.HostPort(), err)
		m.transition(dev.ID, model.StatusDisconnected, err)
		m.metrics.RecordError("device")
		return casterr.ConnectionFailed(err.Error())
	}

	c := newConn(dev.ID, nc)
	if !m.register(c) {
		_ = nc.Close()
		log.CtxDebug(ctx, "device %s disconnected while dialing", dev.ID)
		return casterr.ConnectionFailed("device " + dev.ID + " disconnected while dialing")
	}
	go m.readLoop(c)

	if err := m.handshake(ctx, c); err != nil {
		log.CtxError(ctx, "handshake with device %s fail: %s", dev.ID, err)
		m.closeConn(c, err)
		return err
	}

	c.ready.Store(true)
	if _, ok := m.transition(dev.ID, model.StatusConnected, nil); !ok {
		// the device left connecting while the handshake was in flight
		c.ready.Store(false)
		err := casterr.ConnectionFailed("device " + dev.ID + " left connecting during handshake")
		m.closeConn(c, err)
		return err
	}
	log.CtxInfo(ctx, "connected to device %s at %s", dev.ID, dev.HostPort())
	return nil
}

// register stores c as the session of its device unless the device left the
// connecting state or was removed while the dial was in flight.
func (m *Manager) register(c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.registry.Get(c.id)
	if !ok || dev.Status != model.StatusConnecting || m.conns[c.id] != nil {
		return false
	}
	m.conns[c.id] = c
	return true
}

func (m *Manager) handshake(ctx context.Context, c *conn) error {
	requestID := uuid.NewString()
	wait := c.expect(requestID)
	defer c.forget(requestID)

	if err := m.write(c, frame{Type: frameAuth, Version: protocolVersion, Client: m.client, RequestID: requestID}); err != nil {
		return err
	}

	timer := time.NewTimer(m.handshakeTimeout)
	defer timer.Stop()

	select {
	case raw := <-wait:
		if ok, err := jsonparser.GetBoolean(raw, "ok"); err == nil && !ok {
			return casterr.ErrAuthenticationRequired
		}
		return nil
	case <-timer.C:
		return casterr.Timeout("handshake")
	case <-c.done:
		return casterr.ConnectionFailed("connection closed during handshake")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the session of device id and drops it from the registry.
// Calling it for a device that is not connected is a no-op.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	c := m.conns[id]
	if c == nil {
		// a dial in flight finds the device gone in register and gives up
		m.transition(id, model.StatusDisconnected, nil)
		m.registry.Remove(id)
	}
	m.mu.Unlock()

	if c != nil {
		m.closeConn(c, nil)
		m.registry.Remove(id)
	}
	log.Info("disconnected from device %s", id)
}

// Close disconnects every device and closes the event topics.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		m.closeConn(c, nil)
	}
	m.events.Close()
	m.playbacks.Close()
}

// SendCommand writes cmd to a connected device and applies the status the
// command implies locally. The remote side does not confirm it.
func (m *Manager) SendCommand(ctx context.Context, id string, cmd model.CastCommand) error {
	c := m.session(id)
	if c == nil || !c.ready.Load() {
		return casterr.ErrDeviceNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.write(c, commandFrame(id, cmd)); err != nil {
		return err
	}
	m.metrics.RecordDeviceCommand(string(cmd.Kind))
	log.CtxDebug(ctx, "sent %s to device %s", cmd, id)

	if next, ok := cmd.ImpliedStatus(); ok {
		m.transition(id, next, nil)
	}
	return nil
}

// GetPlaybackState queries device id and waits for the reply carrying the
// same request id.
func (m *Manager) GetPlaybackState(ctx context.Context, id string) (model.PlaybackState, error) {
	c := m.session(id)
	if c == nil || !c.ready.Load() {
		return model.PlaybackState{}, casterr.ErrDeviceNotFound
	}

	requestID := uuid.NewString()
	wait := c.expect(requestID)
	defer c.forget(requestID)

	if err := m.write(c, frame{Type: frameGetPlaybackState, DeviceID: id, RequestID: requestID}); err != nil {
		return model.PlaybackState{}, err
	}

	timer := time.NewTimer(m.commandTimeout)
	defer timer.Stop()

	select {
	case raw := <-wait:
		var state model.PlaybackState
		if err := json.Unmarshal(raw, &state); err != nil {
			return model.PlaybackState{}, casterr.InvalidResponse(err.Error())
		}
		return state, nil
	case <-timer.C:
		return model.PlaybackState{}, casterr.Timeout("get playback state")
	case <-c.done:
		return model.PlaybackState{}, casterr.ConnectionFailed("connection closed")
	case <-ctx.Done():
		return model.PlaybackState{}, ctx.Err()
	}
}

func (m *Manager) write(c *conn, f frame) error {
	f.Timestamp = timestamp()
	b, err := json.Marshal(f)
	if err != nil {
		return casterr.CommandFailed(err.Error())
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.nc.SetWriteDeadline(time.Now().Add(m.commandTimeout))
	if _, err := c.nc.Write(b); err != nil {
		m.closeConn(c, err)
		return casterr.Network(err)
	}
	return nil
}

func (m *Manager) readLoop(c *conn) {
	sc := bufio.NewScanner(c.nc)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		m.handleFrame(c, append([]byte(nil), line...))
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	m.closeConn(c, err)
}

func (m *Manager) handleFrame(c *conn, raw []byte) {
	typ, err := jsonparser.GetString(raw, "type")
	if err != nil {
		log.Debug("drop malformed frame from device %s: %s", c.id, err)
		return
	}
	if id, err := jsonparser.GetString(raw, "deviceId"); err == nil && id != "" && id != c.id {
		log.Debug("drop %s frame for device %s on session of %s", typ, id, c.id)
		return
	}
	requestID, _ := jsonparser.GetString(raw, "requestId")

	switch typ {
	case frameAuth:
		c.resolve(requestID, raw)
	case framePlaybackState:
		// a waiting query decodes the reply itself and reports a bad one
		resolved := c.resolve(requestID, raw)
		var state model.PlaybackState
		if err := json.Unmarshal(raw, &state); err != nil {
			if !resolved {
				log.Debug("drop malformed playback state from device %s: %s", c.id, err)
			}
			return
		}
		m.playbacks.Publish(PlaybackUpdate{DeviceID: c.id, State: state})
	case frameStatusChange:
		s, _ := jsonparser.GetString(raw, "status")
		status, ok := model.ParseDeviceStatus(s)
		if !ok {
			log.Debug("drop unknown status %q from device %s", s, c.id)
			return
		}
		m.transition(c.id, status, nil)
	default:
		log.Debug("unknown frame type %q from device %s", typ, c.id)
	}
}

// closeConn tears a session down once, however many paths report its end.
func (m *Manager) closeConn(c *conn, cause error) {
	c.once.Do(func() {
		_ = c.nc.Close()
		close(c.done)

		m.mu.Lock()
		if m.conns[c.id] == c {
			delete(m.conns, c.id)
		}
		m.mu.Unlock()

		if cause != nil && cause != io.EOF {
			m.metrics.RecordError("device")
		}
		m.transition(c.id, model.StatusDisconnected, cause)
		log.Debug("session of device %s closed: %v", c.id, cause)
	})
}

// transition applies a status change and publishes it. Illegal edges are
// rejected and logged.
func (m *Manager) transition(id string, next model.DeviceStatus, cause error) (model.Device, bool) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	dev, changed, ok := m.registry.Transition(id, next)
	if !ok {
		log.Debug("reject device %s transition %s -> %s", id, dev.Status, next)
		return dev, false
	}
	if changed {
		m.events.Publish(model.DeviceEvent{Device: dev, Status: next, Err: cause})
	}
	return dev, true
}
