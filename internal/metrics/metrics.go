// Package metrics registers the Prometheus collectors the sync server
// exposes: push/pull round counts, conflict counts by kind, and merge
// duration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the collectors wired into one server process.
type Registry struct {
	PushTotal          *prometheus.CounterVec
	PullTotal          *prometheus.CounterVec
	ConflictsDetected  *prometheus.CounterVec
	MergeDuration      prometheus.Histogram
	PushLockWaitSeconds prometheus.Histogram
	OperationsApplied  prometheus.Counter
	VersionsCreated    prometheus.Counter
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry registers all collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PushTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "push_total",
			Help:      "Push rounds handled, labeled by outcome.",
		}, []string{"outcome"}),
		PullTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "pull_total",
			Help:      "Pull requests handled, labeled by outcome.",
		}, []string{"outcome"}),
		ConflictsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "merge",
			Name:      "conflicts_detected_total",
			Help:      "Conflicts detected during merge, labeled by kind.",
		}, []string{"kind"}),
		MergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dbsync",
			Subsystem: "merge",
			Name:      "merge_duration_seconds",
			Help:      "Wall time spent in one merge.Engine.Merge call.",
			Buckets:   prometheus.DefBuckets,
		}),
		PushLockWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "push_lock_wait_seconds",
			Help:      "Time spent waiting to acquire the distributed push lock.",
			Buckets:   prometheus.DefBuckets,
		}),
		OperationsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "operations_applied_total",
			Help:      "Operations applied across all accepted pushes.",
		}),
		VersionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "versions_created_total",
			Help:      "Versions created across all accepted pushes.",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, labeled by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Outcome labels used with PushTotal/PullTotal.
const (
	OutcomeApplied       = "applied"
	OutcomeNoOp          = "no_op"
	OutcomePushRejected  = "push_rejected"
	OutcomePullSuggested = "pull_suggested"
	OutcomeUniqueConflict = "unique_conflict"
	OutcomeError         = "error"
)
