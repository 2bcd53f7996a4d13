// Package app wires the casting components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	guuid "github.com/google/uuid"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/config"
	"github.com/tr1v3r/castlink/internal/httpserver"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/netutil"
	"github.com/tr1v3r/castlink/internal/player"
	"github.com/tr1v3r/castlink/internal/pubsub"
	"github.com/tr1v3r/castlink/internal/receiver"
	"github.com/tr1v3r/castlink/internal/router"
	"github.com/tr1v3r/castlink/internal/session"
	"github.com/tr1v3r/castlink/internal/ssdp"
	"github.com/tr1v3r/castlink/internal/state"
	"github.com/tr1v3r/castlink/internal/upnp"
	"github.com/tr1v3r/castlink/internal/uuid"
)

const (
	ServerName  = "Linux/3.0.0, UPnP/1.0, CastLink/1.0"
	stopTimeout = 3 * time.Second
)

type dispatchFunc func(model.CastCommand)

func (f dispatchFunc) Dispatch(cmd model.CastCommand) { f(cmd) }

// components is everything one Start brings up.
type components struct {
	state    *state.PlayerState
	hub      *session.Hub
	router   *router.Router
	http     *httpserver.Server
	ssdp     *ssdp.Responder
	receiver *receiver.Service
}

// Runtime is the composition root. Features reports every component that
// comes up or fails to.
type Runtime struct {
	cfg         config.Config
	player      player.Player
	danmaku     session.Danmaku
	metrics     *monitoring.Metrics
	advertiseIP string

	Features *pubsub.Topic[model.FeatureEvent]

	mu      sync.Mutex
	running bool
	c       *components
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsubs  []func()
}

type Option func(*Runtime)

func WithMetrics(m *monitoring.Metrics) Option { return func(r *Runtime) { r.metrics = m } }

func WithDanmaku(d session.Danmaku) Option { return func(r *Runtime) { r.danmaku = d } }

// WithAdvertiseIP skips interface lookup and advertises ip.
func WithAdvertiseIP(ip string) Option { return func(r *Runtime) { r.advertiseIP = ip } }

func New(cfg config.Config, p player.Player, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:      cfg,
		player:   p,
		danmaku:  new(player.DanmakuSwitch),
		Features: pubsub.NewTopic[model.FeatureEvent](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start brings the components up when the feature flag is set. With the
// flag off nothing is bound. Each component starts on its own: a failure
// is published on Features and returned, the others keep running.
// Starting a running runtime is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if !r.cfg.Enabled {
		log.CtxInfo(ctx, "casting disabled, nothing started")
		return nil
	}

	deviceUUID, err := uuid.LoadOrCreate(r.cfg.UUIDPath)
	if err != nil {
		deviceUUID = guuid.NewString()
		log.CtxError(ctx, "load device uuid fail, using ephemeral %s: %s", deviceUUID, err)
	}
	ip := r.advertiseIP
	if ip == "" {
		if ip, err = netutil.FirstUsableIPv4(); err != nil {
			log.CtxError(ctx, "no usable IPv4, advertising loopback: %s", err)
			ip = "127.0.0.1"
		}
	}

	c := r.build(deviceUUID, ip)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.router.Run(runCtx)
	}()
	for _, topic := range []*pubsub.Topic[model.CastCommand]{c.receiver.Received, c.receiver.Commands} {
		ch, unsub := topic.Subscribe()
		r.unsubs = append(r.unsubs, unsub)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			c.router.Forward(runCtx, ch)
		}()
	}

	var errs []error
	errs = append(errs, r.report(httpserver.Feature, c.http.Start(ctx)))
	errs = append(errs, r.report(ssdp.Feature, c.ssdp.Start(ctx, r.cfg.AdvertiseInterval)))
	errs = append(errs, r.report(receiver.Feature, c.receiver.Start(ctx)))

	r.c = c
	r.running = true
	log.CtxInfo(ctx, "casting runtime started: device=%s uuid=%s ip=%s", r.cfg.DeviceName, deviceUUID, ip)
	return errors.Join(errs...)
}

func (r *Runtime) build(deviceUUID, ip string) *components {
	c := &components{state: state.New(r.cfg.Volume)}

	c.hub = session.NewHub(
		dispatchFunc(func(cmd model.CastCommand) { c.router.Dispatch(cmd) }),
		r.danmaku,
		session.WithVolume(c.state.GetVolume),
		session.WithMetrics(r.metrics),
	)
	c.receiver = receiver.New(receiver.Options{
		ListenAddr:    fmt.Sprintf(":%d", r.cfg.CastPort),
		BeaconAddr:    r.cfg.BeaconAddr,
		AdvertiseIP:   ip,
		AdvertisePort: r.cfg.CastPort,
		UUID:          deviceUUID,
		DeviceName:    r.cfg.DeviceName,
		DeviceModel:   r.cfg.DeviceModel,
		Metrics:       r.metrics,
	})
	c.router = router.New(r.player, c.state, c.hub,
		router.WithCasting(c.receiver),
		router.WithMetrics(r.metrics),
		router.WithCommandTimeout(r.cfg.CommandTimeout),
	)

	docs := upnp.NewDocuments(upnp.DeviceInfo{
		UUID:         deviceUUID,
		FriendlyName: r.cfg.DeviceName,
		ModelName:    r.cfg.DeviceModel,
	})
	c.http = httpserver.New(httpserver.Feature, fmt.Sprintf(":%d", r.cfg.HTTPPort), httpserver.NewRouter(httpserver.Routes{
		Docs:       docs,
		Projection: c.hub.Handler(),
		LogDir:     r.cfg.LogDir,
		Metrics:    r.metrics,
	}))
	c.ssdp = ssdp.NewResponder(ssdp.Options{
		ListenAddr: r.cfg.SSDPAddr,
		Location:   fmt.Sprintf("http://%s:%d/description.xml", ip, r.cfg.HTTPPort),
		UUID:       deviceUUID,
		Server:     ServerName,
		Metrics:    r.metrics,
	})
	return c
}

// report publishes the outcome of starting feature and passes err through.
func (r *Runtime) report(feature string, err error) error {
	failed := casterr.Features(err)
	if err != nil && len(failed) == 0 {
		failed = []*casterr.FeatureError{{Feature: feature, Err: err}}
	}

	down := make(map[string]bool, len(failed))
	for _, fe := range failed {
		down[fe.Feature] = true
		log.Error("feature %s unavailable: %s", fe.Feature, fe.Err)
		r.metrics.RecordError(fe.Feature)
		r.Features.Publish(model.FeatureEvent{Feature: fe.Feature, Available: false, Err: fe.Err})
	}
	if !down[feature] {
		r.Features.Publish(model.FeatureEvent{Feature: feature, Available: true})
	}
	return err
}

// Stop unwinds Start in reverse order. It is safe to call at any time and
// more than once.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false

	c := r.c
	c.receiver.Stop()
	c.ssdp.Stop()
	c.hub.CloseAll()
	c.http.Stop()

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.cancel()
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := r.player.Stop(ctx); err != nil {
		log.Debug("player stop fail: %s", err)
	}
	r.c = nil
	log.Info("casting runtime stopped")
}

func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// HTTPAddr is the bound descriptor server address, empty when not running.
func (r *Runtime) HTTPAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return ""
	}
	if a := r.c.http.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Receiver returns the cast receiver, nil when not running.
func (r *Runtime) Receiver() *receiver.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return nil
	}
	return r.c.receiver
}
