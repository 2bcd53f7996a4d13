package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/upnp"
)

func newTestRouter(t *testing.T, projection http.Handler, logDir string) http.Handler {
	t.Helper()
	return NewRouter(Routes{
		Docs:       upnp.NewDocuments(upnp.DeviceInfo{UUID: "u-1", FriendlyName: "TV", ModelName: "CastLink"}),
		Projection: projection,
		LogDir:     logDir,
		Metrics:    monitoring.New(),
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestDescriptorRoutes(t *testing.T) {
	h := newTestRouter(t, nil, "")

	rec := serve(h, http.MethodGet, "/description.xml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<UDN>uuid:u-1</UDN>")
	require.Contains(t, rec.Header().Get("Content-Type"), "xml")

	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/dlna/NirvanaControl.xml", "").Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/dlna/AVTransport.xml", "").Code)

	rec = serve(h, http.MethodPost, "/AVTransport/action", "<x/>")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<x/>", rec.Body.String())

	require.Equal(t, http.StatusInternalServerError, serve(h, http.MethodPost, "/AVTransport/event", "").Code)
	require.Equal(t, http.StatusInternalServerError, serve(h, "SUBSCRIBE", "/AVTransport/event", "").Code)
	require.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/nope", "").Code)
}

func TestHandlerPanicBecomes500(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("bad frame") })
	h := newTestRouter(t, boom, "")

	require.Equal(t, http.StatusInternalServerError, serve(h, http.MethodPost, "/projection", "").Code)
	// the router keeps serving afterwards
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/description.xml", "").Code)
}

func TestDebugLogRoutes(t *testing.T) {
	h := newTestRouter(t, nil, "")
	require.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/debug/log", "").Code)

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "a.log")
	newPath := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	h = newTestRouter(t, nil, dir)
	require.Equal(t, "new", serve(h, http.MethodGet, "/debug/log", "").Body.String())
	require.Equal(t, "old", serve(h, http.MethodGet, "/debug/old", "").Body.String())
}

func TestMetricsRoute(t *testing.T) {
	h := newTestRouter(t, nil, "")
	serve(h, http.MethodGet, "/description.xml", "")

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "castlink_http_requests_total")
}

func TestServerStartStop(t *testing.T) {
	s := New(Feature, "127.0.0.1:0", newTestRouter(t, nil, ""))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr().String() + "/description.xml")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "MediaRenderer")

	s.Stop()
	s.Stop()
	require.False(t, s.Running())
	require.Nil(t, s.Addr())
}

func TestServerBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s := New(Feature, busy.Addr().String(), http.NotFoundHandler())
	err = s.Start(context.Background())
	fe, ok := casterr.AsFeature(err)
	require.True(t, ok)
	require.Equal(t, Feature, fe.Feature)
	require.False(t, s.Running())
	s.Stop()
}
