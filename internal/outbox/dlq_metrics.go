package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Replay outcomes recorded per DLQ entry.
const (
	replayRequeued    = "requeued"
	replayQuarantined = "quarantined"
	replayDeferred    = "deferred"
)

var (
	replayOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "dlq",
		Name:      "replay_outcomes_total",
		Help:      "DLQ replay decisions by outcome: requeued into the outbox, quarantined, or deferred after a failed requeue.",
	}, []string{"event_type", "outcome"})

	pendingReplays = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solidtracker",
		Subsystem: "dlq",
		Name:      "pending_entries",
		Help:      "DLQ entries that are neither quarantined nor resolved.",
	})
)

func init() {
	prometheus.MustRegister(replayOutcomes, pendingReplays)
}

func observeReplay(entry dlqEntry, outcome string) {
	replayOutcomes.WithLabelValues(entry.EventType, outcome).Inc()
}

// refreshPending samples the unresolved DLQ size. Errors leave the previous value in place.
func refreshPending(ctx context.Context, pool *pgxpool.Pool) {
	var n int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&n); err == nil {
		pendingReplays.Set(float64(n))
	}
}
