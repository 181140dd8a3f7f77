package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MayankBharati/solidtracker/internal/config"
	"github.com/MayankBharati/solidtracker/internal/logging"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/outbox"
	persistence "github.com/MayankBharati/solidtracker/internal/persistence/postgres"
	"github.com/MayankBharati/solidtracker/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.FromStrings(cfg.LogLevel, cfg.LogFormat), "syncworker")

	if !cfg.UsePostgres() {
		fatal(logger, "syncworker requires POSTGRES_URL", errors.New("missing configuration"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		fatal(logger, "failed to connect to postgres", err)
	}
	defer pool.Close()

	remote, err := mirror.NewClient(mirror.Config{
		BaseURL: cfg.InsightfulAPIURL,
		Token:   cfg.InsightfulAPIToken,
		Timeout: cfg.InsightfulTimeout,
	})
	if err != nil {
		fatal(logger, "failed to build mirror client", err)
	}

	repo := persistence.NewRepository(pool)
	coordinator := mirrorsync.NewCoordinator(repo, repo, repo, remote, mirrorsync.NewDirSource(cfg.ScreenshotDir),
		mirrorsync.WithDegradedSync(cfg.AllowDegradedSync),
		mirrorsync.WithRecreateMissing(cfg.RecreateMissingRemote),
		mirrorsync.WithTimezone(cfg.InsightfulTimezone),
		mirrorsync.WithLogger(logger.With(logging.KeyComponent, "mirrorsync")),
	)
	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	sched := scheduler.New(logger)
	if err := sched.Add("dlq_replay", cfg.DLQSchedule, scheduler.DLQJob(manager, cfg.DLQBatchSize, logger)); err != nil {
		fatal(logger, "invalid DLQ_SCHEDULE", err)
	}
	if err := sched.Add("bulk_sync", cfg.BulkSyncSchedule, scheduler.BulkSyncJob(coordinator, logger)); err != nil {
		fatal(logger, "invalid BULK_SYNC_SCHEDULE", err)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("syncworker metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", logging.KeyError, err)
		}
	}()

	sched.Start()
	logger.Info("syncworker started",
		"dlq_schedule", cfg.DLQSchedule,
		"bulk_sync_schedule", cfg.BulkSyncSchedule,
		"dlq_max_retries", cfg.DLQMaxRetries)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("syncworker received shutdown signal")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", logging.KeyError, err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, logging.KeyError, err)
	os.Exit(1)
}
