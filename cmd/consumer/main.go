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
	"github.com/segmentio/kafka-go"

	"github.com/MayankBharati/solidtracker/internal/config"
	"github.com/MayankBharati/solidtracker/internal/consumer"
	"github.com/MayankBharati/solidtracker/internal/logging"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/outbox"
	persistence "github.com/MayankBharati/solidtracker/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.FromStrings(cfg.LogLevel, cfg.LogFormat), "consumer")

	if !cfg.UsePostgres() || !cfg.UseKafka() {
		fatal(logger, "consumer requires POSTGRES_URL and KAFKA_BROKERS", errors.New("missing configuration"))
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
	handler := consumer.NewSyncHandler(coordinator, outbox.NewPostgresStore(pool), logger)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("consumer metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", logging.KeyError, err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.TimeEntryTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()
		logger.Info("consumer started", "topic", cfg.TimeEntryTopic, "group", cfg.ConsumerGroupID)
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped with error", "topic", cfg.TimeEntryTopic, logging.KeyError, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("consumer shutdown requested")
	case <-done:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", logging.KeyError, err)
	}

	<-done
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, logging.KeyError, err)
	os.Exit(1)
}
