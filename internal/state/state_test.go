package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/model"
)

func TestPlayerStateSnapshot(t *testing.T) {
	s := New(30)
	snap := s.Snapshot()
	require.Equal(t, model.StatusConnected, snap.Status)
	require.Equal(t, float64(30), snap.Volume)
	require.Equal(t, float64(1), snap.Rate)

	s.SetURI("http://media/a.mp4", "A")
	require.Equal(t, model.PlayStateLoading, s.GetPlayState())
	s.SetProgress(25, 100)
	s.SetPlayState(model.PlayStatePaused)
	s.SetRate(1.25)

	snap = s.Snapshot()
	require.Equal(t, model.StatusPaused, snap.Status)
	require.Equal(t, float64(25), snap.Position)
	require.Equal(t, 0.25, snap.BufferProgress)
	require.Equal(t, 1.25, snap.Rate)

	s.SetURI("http://media/b.mp4", "B")
	uri, title := s.GetURI()
	require.Equal(t, "http://media/b.mp4", uri)
	require.Equal(t, "B", title)
	require.Zero(t, s.Snapshot().Position)
}
