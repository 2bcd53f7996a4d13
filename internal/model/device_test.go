package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DeviceStatus
		ok       bool
	}{
		{StatusAvailable, StatusConnecting, true},
		{StatusConnecting, StatusConnected, true},
		{StatusConnecting, StatusDisconnected, true},
		{StatusConnected, StatusPlaying, true},
		{StatusPlaying, StatusPaused, true},
		{StatusPaused, StatusPlaying, true},
		{StatusPlaying, StatusConnected, true},
		{StatusPlaying, StatusError, true},
		{StatusDisconnected, StatusConnecting, true},
		{StatusPlaying, StatusConnecting, false},
		{StatusAvailable, StatusPlaying, false},
		{StatusDisconnected, StatusPlaying, false},
		{StatusError, StatusConnected, false},
		{StatusError, StatusDisconnected, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestImpliedStatus(t *testing.T) {
	st, ok := Play("http://x", "t", nil).ImpliedStatus()
	require.True(t, ok)
	require.Equal(t, StatusPlaying, st)

	st, ok = Stop().ImpliedStatus()
	require.True(t, ok)
	require.Equal(t, StatusConnected, st)

	_, ok = Seek(120).ImpliedStatus()
	require.False(t, ok)
	_, ok = SetVolume(0.5).ImpliedStatus()
	require.False(t, ok)
}

func TestParseDeviceStatus(t *testing.T) {
	st, ok := ParseDeviceStatus("paused")
	require.True(t, ok)
	require.Equal(t, StatusPaused, st)

	_, ok = ParseDeviceStatus("rebooting")
	require.False(t, ok)
}
