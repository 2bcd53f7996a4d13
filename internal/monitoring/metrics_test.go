package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(http.MethodGet, 200, time.Millisecond)
	m.RecordHTTPRequest(http.MethodGet, 404, time.Millisecond)
	m.RecordControlFrame("Play")
	m.RecordControlFrame("Play")
	m.SetLiveSessions(3)

	body := scrape(t, m)
	require.Contains(t, body, `castlink_http_requests_total{code="4xx",method="GET"} 1`)
	require.Contains(t, body, `castlink_control_frames_total{action="Play"} 2`)
	require.Contains(t, body, "castlink_control_sessions 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest(http.MethodPost, 500, time.Second)
	m.RecordError("ssdp")
	m.LogMetrics()
	require.Zero(t, m.GetUptime())
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordNotify()
	require.Contains(t, scrape(t, m), "castlink_ssdp_notify_total 1")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
