package mirror

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "mirror",
		Name:      "requests_total",
		Help:      "Insightful API requests by resource, method and status code (or transport).",
	}, []string{"resource", "method", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solidtracker",
		Subsystem: "mirror",
		Name:      "request_duration_seconds",
		Help:      "Latency of Insightful API requests.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"resource", "method"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}
