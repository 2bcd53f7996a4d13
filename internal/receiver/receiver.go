// Package receiver accepts casts pushed by companion apps and peer devices.
package receiver

import (
	"context"
	"errors"
	"sync"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/httpserver"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/pubsub"
)

const (
	Feature       = "cast-receiver"
	FeatureMDNS   = "mdns"
	FeatureBeacon = "cast-beacon"

	Version = "1.0"
)

var Capabilities = []string{"video", "audio", "bilibili"}

type Options struct {
	// ListenAddr is the HTTP listen address, e.g. :9959.
	ListenAddr string
	// BeaconAddr is the multicast group and port of the discovery beacon.
	BeaconAddr string
	// AdvertiseIP and AdvertisePort end up in mDNS records and beacon replies.
	AdvertiseIP   string
	AdvertisePort int

	UUID        string
	DeviceName  string
	DeviceModel string
	Metrics     *monitoring.Metrics
}

// Service is the cast receiver. Received carries play requests, Commands
// carries transport controls and StateChanged reports every change of the
// receiving flag.
type Service struct {
	opts Options

	Received     *pubsub.Topic[model.CastCommand]
	Commands     *pubsub.Topic[model.CastCommand]
	StateChanged *pubsub.Topic[model.CastingState]

	http   *httpserver.Server
	beacon *beacon

	lifecycle sync.Mutex
	running   bool
	mdns      shutdowner

	mu        sync.Mutex
	receiving bool
	source    model.CastSource
}

func New(opts Options) *Service {
	if opts.DeviceModel == "" {
		opts.DeviceModel = "CastLink"
	}
	s := &Service{
		opts:         opts,
		Received:     pubsub.NewTopic[model.CastCommand](),
		Commands:     pubsub.NewTopic[model.CastCommand](),
		StateChanged: pubsub.NewTopic[model.CastingState](),
		source:       model.SourceOther,
	}
	s.http = httpserver.New(Feature, opts.ListenAddr, s.Router())
	s.beacon = newBeacon(opts)
	return s
}

// Start brings up the HTTP command server, the mDNS advertisement and the
// beacon responder in that order. Failing to bind HTTP aborts the start.
// mDNS and beacon failures are returned as FeatureErrors while the
// service keeps running without them.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running {
		return nil
	}

	if err := s.http.Start(ctx); err != nil {
		return err
	}
	s.running = true

	var errs []error
	adv, err := startMDNS(mdnsConfig{
		Instance: mdnsInstance,
		Service:  mdnsService,
		IP:       s.opts.AdvertiseIP,
		Port:     s.opts.AdvertisePort,
		TXT: []string{
			"model=" + s.opts.DeviceModel,
			"version=" + Version,
			"capabilities=video,audio,bilibili",
		},
	})
	if err != nil {
		log.Error("mDNS service publish fail: %s", err)
		errs = append(errs, casterr.Feature(FeatureMDNS, err))
	} else {
		s.mdns = adv
		log.Info("mDNS service published: %s", mdnsInstance)
	}

	if err := s.beacon.start(ctx); err != nil {
		log.Error("cast beacon start fail: %s", err)
		errs = append(errs, err)
	}

	log.Info("cast receiver service started on %s", s.opts.ListenAddr)
	return errors.Join(errs...)
}

// Stop unwinds Start in reverse order and clears the receiving flag.
// It is safe to call more than once.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running {
		return
	}
	s.running = false

	s.beacon.stop()
	if s.mdns != nil {
		if err := s.mdns.Shutdown(); err != nil {
			log.Debug("mDNS shutdown fail: %s", err)
		}
		s.mdns = nil
	}
	s.http.Stop()

	s.setReceiving(false, "")
	log.Info("cast receiver service stopped")
}

func (s *Service) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.running
}

// State returns the current receiving flag and source.
func (s *Service) State() model.CastingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CastingState{Receiving: s.receiving, Source: s.source}
}

// HTTPAddr returns the bound command server address, empty when stopped.
func (s *Service) HTTPAddr() string {
	if a := s.http.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// BeaconAddr returns the bound beacon socket address, empty when stopped.
func (s *Service) BeaconAddr() string {
	if a := s.beacon.addr(); a != nil {
		return a.String()
	}
	return ""
}

// EndReceiving clears the receiving flag once playback is over. It does
// nothing when no cast is being received.
func (s *Service) EndReceiving() {
	s.mu.Lock()
	receiving := s.receiving
	s.mu.Unlock()
	if receiving {
		s.setReceiving(false, "")
	}
}

// setReceiving updates the flag and publishes one notification. An empty
// source keeps the current one.
func (s *Service) setReceiving(receiving bool, source model.CastSource) {
	s.mu.Lock()
	s.receiving = receiving
	if source != "" {
		s.source = source
	}
	st := model.CastingState{Receiving: s.receiving, Source: s.source}
	s.mu.Unlock()

	log.Info("casting state changed: isReceiving=%t source=%s", st.Receiving, st.Source)
	s.StateChanged.Publish(st)
}
