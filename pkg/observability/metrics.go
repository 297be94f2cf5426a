// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the tool server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	Namespace      string // Prometheus namespace (default: mdtd)
	ServiceName    string
	ServiceVersion string

	// SessionCount reports live sessions for the gauge; nil disables it
	SessionCount func() int
}

// Metrics holds the server's Prometheus collectors on a private registry so
// tests can instantiate it freely.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	sseConnections   prometheus.Gauge
}

// NewMetrics creates and registers the server metrics
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "mdtd"
	}

	constLabels := prometheus.Labels{}
	if cfg.ServiceName != "" {
		constLabels["service"] = cfg.ServiceName
	}
	if cfg.ServiceVersion != "" {
		constLabels["version"] = cfg.ServiceVersion
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "requests_total",
			Help:        "Total JSON-RPC requests by transport, method, and error code (0 for success)",
			ConstLabels: constLabels,
		}, []string{"transport", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "request_duration_seconds",
			Help:        "JSON-RPC request duration by transport and method",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"transport", "method"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "rate_limit_denials_total",
			Help:        "Tool calls denied by the rate limiter, by tool name",
			ConstLabels: constLabels,
		}, []string{"tool"}),
		sseConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "sse_connections",
			Help:        "Currently open SSE streams",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(m.requestTotal, m.requestDuration, m.rateLimitDenials, m.sseConnections)

	if cfg.SessionCount != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions",
			Help:        "Currently live sessions",
			ConstLabels: constLabels,
		}, func() float64 { return float64(cfg.SessionCount()) }))
	}

	return m
}

// Handler exposes the private registry for a /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one dispatched request. code is the JSON-RPC error
// code, zero for success.
func (m *Metrics) RecordRequest(transport, method string, code int, d time.Duration) {
	m.requestTotal.WithLabelValues(transport, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(transport, method).Observe(d.Seconds())
}

// RecordRateLimitDenial counts a denied tool call
func (m *Metrics) RecordRateLimitDenial(tool string) {
	m.rateLimitDenials.WithLabelValues(tool).Inc()
}

// SSEOpened tracks a newly established SSE stream
func (m *Metrics) SSEOpened() {
	m.sseConnections.Inc()
}

// SSEClosed tracks a torn-down SSE stream
func (m *Metrics) SSEClosed() {
	m.sseConnections.Dec()
}
