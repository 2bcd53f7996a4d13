// Package state keeps the last known playback snapshot of the local player.
package state

import (
	"sync"

	"github.com/tr1v3r/castlink/internal/model"
)

type PlayerState struct {
	mu sync.RWMutex

	URI   string
	Title string

	PlayState model.PlayState
	Position  float64
	Duration  float64
	Volume    int
	Rate      float64
}

func New(volume int) *PlayerState {
	return &PlayerState{
		PlayState: model.PlayStateStopped,
		Volume:    volume,
		Rate:      1,
	}
}

func (s *PlayerState) GetURI() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.URI, s.Title
}

// SetURI records new media and resets progress.
func (s *PlayerState) SetURI(uri, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.URI, s.Title = uri, title
	s.Position, s.Duration = 0, 0
	s.PlayState = model.PlayStateLoading
}

func (s *PlayerState) SetPlayState(st model.PlayState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayState = st
}

func (s *PlayerState) GetPlayState() model.PlayState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PlayState
}

func (s *PlayerState) SetProgress(position, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Position, s.Duration = position, duration
}

func (s *PlayerState) GetVolume() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Volume
}

func (s *PlayerState) SetVolume(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Volume = v
}

func (s *PlayerState) SetRate(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rate = r
}

// Snapshot returns the state in the shape devices report it.
func (s *PlayerState) Snapshot() model.PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := model.StatusConnected
	switch s.PlayState {
	case model.PlayStatePlaying, model.PlayStateLoading:
		status = model.StatusPlaying
	case model.PlayStatePaused:
		status = model.StatusPaused
	}
	var buffered float64
	if s.Duration > 0 {
		buffered = s.Position / s.Duration
	}
	return model.PlaybackState{
		Position:       s.Position,
		Duration:       s.Duration,
		Status:         status,
		Volume:         float64(s.Volume),
		Rate:           s.Rate,
		BufferProgress: buffered,
	}
}
