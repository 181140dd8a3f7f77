// Package scheduler runs the periodic background jobs of the sync worker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
)

var (
	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solidtracker",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduled job executions by job and result.",
	}, []string{"job", "status"})
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solidtracker",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Duration of scheduled job executions.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(jobRuns, jobDuration)
}

// JobFunc is one execution of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a seconds-resolution cron. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job under a six-field cron spec.
func (s *Scheduler) Add(name, spec string, run JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() { s.runJob(name, run) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) runJob(name string, run JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	err := run(ctx)
	jobDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		jobRuns.WithLabelValues(name, "error").Inc()
		s.logger.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	jobRuns.WithLabelValues(name, "ok").Inc()
}

// Start begins executing jobs. Jobs receive a context cancelled by Stop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// BulkSyncer is the coordinator surface used by the bulk sync job.
type BulkSyncer interface {
	SyncAllEmployees(ctx context.Context) mirrorsync.BatchResult
	SyncAllProjects(ctx context.Context) mirrorsync.BatchResult
	SyncAllTasks(ctx context.Context) mirrorsync.BatchResult
}

// BulkSyncJob syncs every active employee, then every active project, then every active task,
// so each pass finds its parents mirrored. Individual failures are logged; the job only errors
// when nothing synced and something failed or degraded.
func BulkSyncJob(syncer BulkSyncer, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		employees := syncer.SyncAllEmployees(ctx)
		projects := syncer.SyncAllProjects(ctx)
		tasks := syncer.SyncAllTasks(ctx)
		logger.Info("bulk sync finished",
			"employees_synced", employees.SyncedCount,
			"employees_degraded", employees.DegradedCount,
			"employees_failed", employees.FailedCount,
			"projects_synced", projects.SyncedCount,
			"projects_degraded", projects.DegradedCount,
			"projects_failed", projects.FailedCount,
			"tasks_synced", tasks.SyncedCount,
			"tasks_degraded", tasks.DegradedCount,
			"tasks_failed", tasks.FailedCount)

		var synced, unsynced int
		for _, result := range []mirrorsync.BatchResult{employees, projects, tasks} {
			for _, msg := range result.Errors {
				logger.Warn("bulk sync entity failed", "error", msg)
			}
			synced += result.SyncedCount
			unsynced += result.FailedCount + result.DegradedCount
		}
		if synced == 0 && unsynced > 0 {
			return fmt.Errorf("bulk sync: none of %d entities synced", unsynced)
		}
		return ctx.Err()
	}
}

// DLQRunner replays due dead-letter entries.
type DLQRunner interface {
	RunOnce(ctx context.Context, batchSize int) (int, error)
}

// DLQJob drains due DLQ entries in batches until a batch comes back short.
func DLQJob(runner DLQRunner, batchSize int, logger *slog.Logger) JobFunc {
	if batchSize <= 0 {
		batchSize = 50
	}
	return func(ctx context.Context) error {
		total := 0
		for ctx.Err() == nil {
			n, err := runner.RunOnce(ctx, batchSize)
			total += n
			if err != nil {
				return fmt.Errorf("dlq replay: %w", err)
			}
			if n < batchSize {
				break
			}
		}
		if total > 0 {
			logger.Info("dlq entries processed", "count", total)
		}
		return ctx.Err()
	}
}
