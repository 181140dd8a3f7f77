package mirrorsync

import "github.com/prometheus/client_golang/prometheus"

var (
	syncAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "sync",
		Name:      "attempts_total",
		Help:      "Sync attempts labeled by entity type, action, and resulting status.",
	}, []string{"entity_type", "action", "status"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solidtracker",
		Subsystem: "sync",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of one sync attempt including lock wait and bookkeeping.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"entity_type"})
)

func init() {
	prometheus.MustRegister(syncAttempts, syncDuration)
}
