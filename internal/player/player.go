// Package player drives the local media player that renders casts.
package player

import (
	"context"
	"sync/atomic"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/model"
)

type Player interface {
	Play(ctx context.Context, url, title string, meta *model.VideoMetadata) error
	PlayVideo(ctx context.Context, meta model.VideoMetadata) error
	PlayLive(ctx context.Context, roomID int64) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	// SetVolume takes a level in percent, 0 to 100.
	SetVolume(ctx context.Context, level float64) error
	SetRate(ctx context.Context, rate float64) error

	// Events reports state changes and periodic progress.
	Events() <-chan Event
}

type EventType int

const (
	EventState EventType = iota
	EventProgress
)

// Event is one observation of the player. State is set for EventState,
// Position and Duration (seconds) for EventProgress.
type Event struct {
	Type     EventType
	State    model.PlayState
	Position float64
	Duration float64
}

// DanmakuSwitch records whether danmaku display is on. Rendering belongs to
// the UI layer, which reads Enabled.
type DanmakuSwitch struct{ enabled atomic.Bool }

func (d *DanmakuSwitch) SetDanmaku(open bool) {
	log.Debug("danmaku display: %t", open)
	d.enabled.Store(open)
}

func (d *DanmakuSwitch) Enabled() bool { return d.enabled.Load() }
