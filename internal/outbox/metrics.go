package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
)

var (
	eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Time entry events handed off by the sink: published to Kafka or mirrored in process.",
	}, []string{"sink", "event_type"})

	eventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Events the sink could not deliver, by sync error class. Degraded syncs count here.",
	}, []string{"sink", "event_type", "error_class"})

	eventsCoalesced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "outbox",
		Name:      "events_coalesced_total",
		Help:      "Events settled by an earlier sync of the same aggregate in one batch.",
	}, []string{"aggregate_type"})

	batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solidtracker",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"sink"})

	dlqRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Events routed to the dead-letter queue for a delayed replay.",
	}, []string{"sink", "topic"})
)

func init() {
	prometheus.MustRegister(eventsDelivered, eventsFailed, eventsCoalesced, batchDuration, dlqRouted)
}

// observeBatch records one settled batch for the named sink.
func observeBatch(sink string, messages []Message, failures []Failure, started time.Time) {
	failed := make(map[int64]bool, len(failures))
	for _, f := range failures {
		failed[f.Message.EventID] = true
		eventsFailed.WithLabelValues(sink, f.Message.EventType, string(mirrorsync.Classify(f.Err))).Inc()
	}
	for _, msg := range messages {
		if !failed[msg.EventID] {
			eventsDelivered.WithLabelValues(sink, msg.EventType).Inc()
		}
	}
	batchDuration.WithLabelValues(sink).Observe(time.Since(started).Seconds())
}
