package castclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/receiver"
)

func newReceiver(t *testing.T) (*receiver.Service, *Client) {
	t.Helper()
	svc := receiver.New(receiver.Options{DeviceName: "Peer TV", DeviceModel: "CastLink"})
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return svc, New(srv.URL, 0)
}

func TestPushToReceiver(t *testing.T) {
	svc, c := newReceiver(t)
	ctx := context.Background()
	received, cancel := svc.Received.Subscribe()
	defer cancel()
	commands, cancelCmd := svc.Commands.Subscribe()
	defer cancelCmd()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, "Peer TV", info.DeviceName)
	require.Equal(t, "ready", info.Status)

	require.NoError(t, c.Send(ctx, model.PlayContent(model.VideoMetadata{ContentID: 170001, PartID: 279786, Title: "demo"})))
	cmd := <-received
	require.Equal(t, model.CmdPlayContent, cmd.Kind)
	require.Equal(t, int64(170001), cmd.Metadata.ContentID)
	require.Equal(t, "demo", cmd.Metadata.Title)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Receiving)

	require.NoError(t, c.Send(ctx, model.Seek(42)))
	cmd = <-commands
	require.Equal(t, model.CmdSeek, cmd.Kind)
	require.Equal(t, float64(42), cmd.Position)

	require.NoError(t, c.Send(ctx, model.Stop()))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Receiving)
}

func TestPushRejected(t *testing.T) {
	_, c := newReceiver(t)
	err := c.Play(context.Background(), "", "no url")
	require.ErrorIs(t, err, casterr.ErrCommandFailed)

	require.ErrorIs(t, c.Send(context.Background(), model.PlayLive(1)), casterr.ErrUnsupportedFormat)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	c := New(srv.URL, 3, WithRetryWait(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, c.Control(context.Background(), "pause", nil))
	require.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	c = New(srv.URL, 1, WithRetryWait(time.Millisecond, 5*time.Millisecond))
	require.ErrorIs(t, c.Control(context.Background(), "pause", nil), casterr.ErrNetwork)
}
