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

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/auth"
	"github.com/MayankBharati/solidtracker/internal/config"
	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/logging"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/outbox"
	"github.com/MayankBharati/solidtracker/internal/persistence/memory"
	persistence "github.com/MayankBharati/solidtracker/internal/persistence/postgres"
	httptransport "github.com/MayankBharati/solidtracker/internal/transport/http"
)

// store is what the API needs from a backing store.
type store interface {
	domain.TimeEntryRepository
	mirrorsync.EntityReader
	mirrorsync.LinkageStore
	mirrorsync.SyncLog
	api.Directory
}

func main() {
	cfg := config.Load()
	logger := logging.New(logging.FromStrings(cfg.LogLevel, cfg.LogFormat), "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote, err := mirror.NewClient(mirror.Config{
		BaseURL: cfg.InsightfulAPIURL,
		Token:   cfg.InsightfulAPIToken,
		Timeout: cfg.InsightfulTimeout,
	})
	if err != nil {
		fatal(logger, "failed to build mirror client", err)
	}

	var (
		repo store
		pool *pgxpool.Pool
	)
	if cfg.UsePostgres() {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			fatal(logger, "failed to connect to postgres", err)
		}
		defer pool.Close()
		repo = persistence.NewRepository(pool)
	} else {
		logger.Warn("POSTGRES_URL not set, using the in-memory store; outbox delivery is disabled")
		mem := memory.NewStore()
		seedDemo(mem)
		repo = mem
	}

	coordinator := mirrorsync.NewCoordinator(repo, repo, repo, remote, mirrorsync.NewDirSource(cfg.ScreenshotDir),
		mirrorsync.WithDegradedSync(cfg.AllowDegradedSync),
		mirrorsync.WithRecreateMissing(cfg.RecreateMissingRemote),
		mirrorsync.WithTimezone(cfg.InsightfulTimezone),
		mirrorsync.WithLogger(logger.With(logging.KeyComponent, "mirrorsync")),
	)

	var dispatcher *outbox.Dispatcher
	if pool != nil {
		var sink outbox.Sink
		if cfg.UseKafka() {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()
			sink = outbox.NewKafkaSink(producer, outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL))
		} else {
			sink = outbox.NewSyncSink(coordinator)
		}
		dispatcher = outbox.NewDispatcher(outbox.NewPostgresStore(pool), sink, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithLogger(logger.With(logging.KeyComponent, "outbox")))
		go dispatcher.Start(ctx)
	}

	service := domain.NewService(repo)
	handler := api.NewHandler(service, repo, coordinator, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(httptransport.RequestLogger(logger, mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("solidtracker api listening", "address", cfg.HTTPAddress, "postgres", cfg.UsePostgres(), "kafka", cfg.UseKafka())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", logging.KeyError, err)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// seedDemo gives the in-memory store one employee with a project and task so the timer client
// has something to track against.
func seedDemo(s *memory.Store) {
	now := time.Now().UTC()
	s.PutEmployee(domain.Employee{ID: "demo", Name: "Demo User", Email: "demo@example.com", Status: domain.StatusActive, ProjectIDs: []string{"demo-project"}, CreatedAt: now, UpdatedAt: now})
	s.PutProject(domain.Project{ID: "demo-project", Name: "Demo Project", Status: domain.StatusActive, EmployeeIDs: []string{"demo"}, CreatedAt: now, UpdatedAt: now})
	s.PutTask(domain.Task{ID: "demo-task", ProjectID: "demo-project", Name: "General", Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now})
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, logging.KeyError, err)
	os.Exit(1)
}
