package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcpgate/mcpgate/internal/port/outbound"
)

// Metrics holds the Prometheus metrics the HTTP adapter records.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SSEStreams      prometheus.Gauge
	ActiveSessions  prometheus.GaugeFunc
}

// NewMetrics creates and registers all HTTP metrics with the given
// registry. The active-sessions gauge reads the registry size on scrape.
func NewMetrics(reg prometheus.Registerer, sessions outbound.SessionRegistry) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpgate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SSEStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpgate",
				Name:      "sse_streams",
				Help:      "Number of open SSE streams",
			},
		),
		ActiveSessions: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "mcpgate",
				Name:      "active_sessions",
				Help:      "Number of active sessions",
			},
			func() float64 { return float64(sessions.Size()) },
		),
	}
}
