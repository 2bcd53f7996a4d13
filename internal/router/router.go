// Package router turns cast commands into player calls and player events
// into pushes for control sessions.
package router

import (
	"context"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/player"
	"github.com/tr1v3r/castlink/internal/state"
)

const (
	queueSize             = 64
	defaultCommandTimeout = 10 * time.Second
)

// Broadcaster pushes play state and progress to control sessions.
type Broadcaster interface {
	BroadcastPlayState(st model.PlayState) int
	BroadcastProgress(duration, position int) int
}

// Casting is told when playback of a received cast is over.
type Casting interface {
	EndReceiving()
}

type Router struct {
	player      player.Player
	state       *state.PlayerState
	broadcaster Broadcaster
	casting     Casting
	metrics     *monitoring.Metrics
	timeout     time.Duration

	queue chan model.CastCommand
}

type Option func(*Router)

func WithCasting(c Casting) Option { return func(r *Router) { r.casting = c } }

func WithMetrics(m *monitoring.Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithCommandTimeout bounds each player call made from the queue.
func WithCommandTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(p player.Player, st *state.PlayerState, b Broadcaster, opts ...Option) *Router {
	r := &Router{
		player:      p,
		state:       st,
		broadcaster: b,
		timeout:     defaultCommandTimeout,
		queue:       make(chan model.CastCommand, queueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch queues cmd for Run. It never blocks; a full queue drops cmd.
func (r *Router) Dispatch(cmd model.CastCommand) {
	select {
	case r.queue <- cmd:
	default:
		log.Error("command queue full, drop %s", cmd)
		r.metrics.RecordError("router")
	}
}

// Forward dispatches every command received on ch until ch closes or ctx is done.
func (r *Router) Forward(ctx context.Context, ch <-chan model.CastCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-ch:
			if !ok {
				return
			}
			r.Dispatch(cmd)
		}
	}
}

// Run applies queued commands and relays player events until ctx is done.
func (r *Router) Run(ctx context.Context) {
	events := r.player.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.queue:
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := r.Apply(cctx, cmd); err != nil {
				log.CtxError(ctx, "apply %s fail: %s", cmd, err)
				r.metrics.RecordError("player")
			}
			cancel()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.OnPlayerStateChanged(ev)
		}
	}
}

// Apply makes exactly one player call for cmd.
func (r *Router) Apply(ctx context.Context, cmd model.CastCommand) error {
	log.CtxDebug(ctx, "apply %s", cmd)
	switch cmd.Kind {
	case model.CmdPlay:
		r.state.SetURI(cmd.URL, cmd.Title)
		return r.player.Play(ctx, cmd.URL, cmd.Title, cmd.Metadata)
	case model.CmdPlayContent:
		if cmd.Metadata == nil {
			return casterr.ErrUnsupportedFormat
		}
		r.state.SetURI("", cmd.Title)
		return r.player.PlayVideo(ctx, *cmd.Metadata)
	case model.CmdPlayLive:
		r.state.SetURI("", "")
		return r.player.PlayLive(ctx, cmd.RoomID)
	case model.CmdPause:
		return r.player.Pause(ctx)
	case model.CmdResume:
		return r.player.Resume(ctx)
	case model.CmdStop:
		return r.player.Stop(ctx)
	case model.CmdSeek:
		return r.player.Seek(ctx, cmd.Position)
	case model.CmdSetVolume:
		level := min(max(cmd.Level, 0), 100)
		r.state.SetVolume(int(level))
		return r.player.SetVolume(ctx, level)
	case model.CmdSetPlaybackRate:
		if cmd.Rate <= 0 {
			return casterr.CommandFailed("playback rate must be positive")
		}
		r.state.SetRate(cmd.Rate)
		return r.player.SetRate(ctx, cmd.Rate)
	}
	return casterr.CommandFailed("unknown command " + string(cmd.Kind))
}

// OnPlayerStateChanged records ev and pushes it to every control session.
// Playback ending also ends the current received cast.
func (r *Router) OnPlayerStateChanged(ev player.Event) {
	switch ev.Type {
	case player.EventState:
		r.state.SetPlayState(ev.State)
		r.broadcaster.BroadcastPlayState(ev.State)
		if ev.State == model.PlayStateStopped || ev.State == model.PlayStateEnded {
			if r.casting != nil {
				r.casting.EndReceiving()
			}
		}
	case player.EventProgress:
		r.state.SetProgress(ev.Position, ev.Duration)
		r.broadcaster.BroadcastProgress(int(ev.Duration), int(ev.Position))
	}
}
