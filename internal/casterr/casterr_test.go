package casterr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrappedKindsMatch(t *testing.T) {
	err := ConnectionFailed("dial refused")
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Contains(t, err.Error(), "dial refused")

	err = CommandFailed("not connected")
	require.ErrorIs(t, err, ErrCommandFailed)
	require.NotErrorIs(t, err, ErrConnectionFailed)

	err = InvalidResponse("bad playback state")
	require.ErrorIs(t, err, ErrInvalidResponse)
	require.Contains(t, err.Error(), "bad playback state")
}

func TestNetworkKeepsCause(t *testing.T) {
	err := Network(io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NoError(t, Network(nil))
}

func TestFeatureError(t *testing.T) {
	cause := errors.New("address already in use")
	err := Feature("ssdp", cause)

	fe, ok := AsFeature(err)
	require.True(t, ok)
	require.Equal(t, "ssdp", fe.Feature)
	require.ErrorIs(t, err, cause)

	_, ok = AsFeature(cause)
	require.False(t, ok)
}

func TestFeaturesFromJoined(t *testing.T) {
	err := errors.Join(Feature("mdns", io.EOF), errors.New("plain"), Feature("beacon", io.ErrClosedPipe))
	fes := Features(err)
	require.Len(t, fes, 2)
	require.Equal(t, "mdns", fes[0].Feature)
	require.Equal(t, "beacon", fes[1].Feature)
	require.Nil(t, Features(nil))
}
