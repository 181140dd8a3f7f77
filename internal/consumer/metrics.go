package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Per-message results of the processor loop.
const (
	resultHandled     = "handled"
	resultHandlerFail = "handler_error"
	resultUndecodable = "undecodable"
)

var (
	messageResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka records read by the consumer, by event type and result.",
	}, []string{"event_type", "result"})

	syncRequeues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "consumer",
		Name:      "sync_requeued_total",
		Help:      "Events whose sync failed and were handed back to the DLQ, by error class.",
	}, []string{"error_class"})

	lagSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solidtracker",
		Subsystem: "consumer",
		Name:      "last_handled_lag_seconds",
		Help:      "Seconds between the newest handled record's timestamp and its handling.",
	})
)

func init() {
	prometheus.MustRegister(messageResults, syncRequeues, lagSeconds)
}

func observeResult(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	messageResults.WithLabelValues(eventType, result).Inc()
}

func observeHandled(msg Message) {
	observeResult(msg.EventType, resultHandled)
	if !msg.Timestamp.IsZero() {
		lagSeconds.Set(time.Since(msg.Timestamp).Seconds())
	}
}
