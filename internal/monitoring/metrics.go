package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tr1v3r/pkg/log"
)

// Metrics tracks application metrics on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   prometheus.Histogram
	controlFrames  *prometheus.CounterVec
	liveSessions   prometheus.Gauge
	ssdpReplies    *prometheus.CounterVec
	notifySent     prometheus.Counter
	castsReceived  *prometheus.CounterVec
	deviceCommands *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec

	startTime time.Time
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_http_requests_total",
			Help: "HTTP requests by method and status class",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "castlink_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
		controlFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_control_frames_total",
			Help: "Inbound control session frames by action",
		}, []string{"action"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "castlink_control_sessions",
			Help: "Open control sessions",
		}),
		ssdpReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_discovery_replies_total",
			Help: "Unicast discovery replies sent by responder",
		}, []string{"responder"}),
		notifySent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "castlink_ssdp_notify_total",
			Help: "SSDP NOTIFY advertisements sent",
		}),
		castsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_casts_received_total",
			Help: "Casts accepted by the receiver by kind",
		}, []string{"kind"}),
		deviceCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_device_commands_total",
			Help: "Commands sent to remote devices by type",
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castlink_errors_total",
			Help: "Errors by component",
		}, []string{"component"}),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.controlFrames,
		m.liveSessions,
		m.ssdpReplies,
		m.notifySent,
		m.castsReceived,
		m.deviceCommands,
		m.errorsTotal,
	)
	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.httpDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordControlFrame(action string) {
	if m == nil {
		return
	}
	m.controlFrames.WithLabelValues(action).Inc()
}

func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

func (m *Metrics) RecordDiscoveryReply(responder string) {
	if m == nil {
		return
	}
	m.ssdpReplies.WithLabelValues(responder).Inc()
}

func (m *Metrics) RecordNotify() {
	if m == nil {
		return
	}
	m.notifySent.Inc()
}

func (m *Metrics) RecordCast(kind string) {
	if m == nil {
		return
	}
	m.castsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDeviceCommand(typ string) {
	if m == nil {
		return
	}
	m.deviceCommands.WithLabelValues(typ).Inc()
}

// RecordError records an error attributed to component
func (m *Metrics) RecordError(component string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(component).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GetUptime returns the application uptime
func (m *Metrics) GetUptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// LogMetrics logs a short summary
func (m *Metrics) LogMetrics() {
	if m == nil {
		return
	}
	families, err := m.registry.Gather()
	if err != nil {
		log.Error("gather metrics fail: %s", err)
		return
	}
	var total float64
	for _, f := range families {
		if f.GetName() != "castlink_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	log.Info("Application metrics uptime=%s http_requests_total=%.0f metric_families=%d",
		m.GetUptime().String(), total, len(families))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
