// Package observability holds process-wide watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	timeEntryPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solidtracker",
		Subsystem: "persistence",
		Name:      "last_time_entry_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent time entry mutation committed to Postgres.",
	})
	remoteSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solidtracker",
		Subsystem: "persistence",
		Name:      "last_remote_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful remote sync.",
	})
	activeTimersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solidtracker",
		Subsystem: "persistence",
		Name:      "active_timers_delta",
		Help:      "Timers started minus timers stopped since process start.",
	})
)

func init() {
	prometheus.MustRegister(timeEntryPersistGauge, remoteSyncedGauge, activeTimersGauge)
}

// RecordTimeEntryPersisted updates the persistence watermark gauge.
func RecordTimeEntryPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	timeEntryPersistGauge.Set(float64(ts.Unix()))
}

// RecordRemoteSynced updates the sync watermark gauge.
func RecordRemoteSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	remoteSyncedGauge.Set(float64(ts.Unix()))
}

// RecordTimerStarted increments the active timer delta.
func RecordTimerStarted() { activeTimersGauge.Inc() }

// RecordTimerStopped decrements the active timer delta.
func RecordTimerStopped() { activeTimersGauge.Dec() }
