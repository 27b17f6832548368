package shutdown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ShutdownPrometheusMetrics records how graceful shutdown went:
// attempts by outcome, and how long draining in-flight requests took.
type ShutdownPrometheusMetrics struct {
	attemptsTotal *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewShutdownPrometheusMetrics registers shutdown metrics against the
// default global registry.
func NewShutdownPrometheusMetrics() *ShutdownPrometheusMetrics {
	return &ShutdownPrometheusMetrics{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dbsync",
				Subsystem: "server",
				Name:      "shutdown_attempts_total",
				Help:      "Graceful shutdown attempts by outcome.",
			},
			[]string{"status"},
		),
		duration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dbsync",
				Subsystem: "server",
				Name:      "shutdown_duration_seconds",
				Help:      "Time spent draining in-flight requests during shutdown.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
}

// RecordShutdownAttempt records one shutdown attempt's outcome.
func (m *ShutdownPrometheusMetrics) RecordShutdownAttempt(status string) {
	m.attemptsTotal.WithLabelValues(status).Inc()
}

// RecordShutdownDuration records how long the shutdown attempt took.
func (m *ShutdownPrometheusMetrics) RecordShutdownDuration(seconds float64) {
	m.duration.Observe(seconds)
}
