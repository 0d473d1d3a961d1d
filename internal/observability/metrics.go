// Package observability exposes Prometheus metrics for the session gateway.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's instrumentation. Construct one per process;
// registering the same namespace twice panics in the Prometheus client.
type Metrics struct {
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	RecordsRead     prometheus.Counter
	ClockFallbacks  prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

// NewMetrics registers the gateway metrics under namespace on the default
// registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions executed, labeled by outcome status.",
		}, []string{"outcome"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a full session, scan to disconnect.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		RecordsRead: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Measurement records retrieved from devices.",
		}),
		ClockFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_fallbacks_total",
			Help:      "Records whose device timestamp was unparsable and got replaced with the host clock.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently holding the radio.",
		}),
	}
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
