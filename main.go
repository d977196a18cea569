package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/config"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/embeddings"
	"github.com/attriq/lead-engine/pkg/fub"
	"github.com/attriq/lead-engine/pkg/handlers"
	"github.com/attriq/lead-engine/pkg/logging"
	"github.com/attriq/lead-engine/pkg/metrics"
	"github.com/attriq/lead-engine/pkg/middleware"
	"github.com/attriq/lead-engine/pkg/repositories"
	"github.com/attriq/lead-engine/pkg/services"
	"github.com/attriq/lead-engine/pkg/storage"
	"github.com/attriq/lead-engine/pkg/worker"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := cfg.Database.ConnectionString()
	logger.Info("connecting to database",
		zap.String("dsn", logging.SanitizeConnectionString(connStr)))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrateUp(connStr, cfg.MigrationsPath, logger); err != nil {
		return err
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	embedClient, err := embeddings.NewClient(&embeddings.Config{
		Endpoint: cfg.Embeddings.Endpoint,
		Model:    cfg.Embeddings.Model,
		APIKey:   cfg.Embeddings.APIKey,
		Timeout:  cfg.Embeddings.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	// Repositories
	sources := repositories.NewLeadSourceRepository(db)
	batches := repositories.NewBatchRepository(db)
	rawRows := repositories.NewRawRowRepository(db)
	leads := repositories.NewCanonicalLeadRepository(db)
	crmConns := repositories.NewCrmConnectionRepository(db)
	crmLeads := repositories.NewCrmLeadRepository(db)
	matches := repositories.NewMatchRepository(db)
	candidates := repositories.NewMatchCandidateRepository(db)
	lineage := repositories.NewLineageRepository(db)
	embedTasks := repositories.NewEmbeddingTaskRepository(db)
	syncLogs := repositories.NewSyncLogRepository(db)
	agents := repositories.NewAgentRepository(db)

	// Services
	stager := services.NewStagerService(db, sources, batches, blobs, logger)
	parser := services.NewParserService(db, sources, batches, rawRows, blobs, logger)
	transformer := services.NewTransformerService(db, sources, batches, rawRows, leads, lineage, embedTasks, logger)
	matcher := services.NewMatcherService(db, leads, crmLeads, matches, candidates, agents, lineage, cfg.Workers.CandidateTTL, logger)
	embedWorker := services.NewEmbedWorkerService(db, embedTasks, leads, crmLeads, embedClient, cfg.Workers.MaxAttempts, cfg.Workers.StuckTaskTimeout, logger)
	review := services.NewReviewService(db, leads, crmLeads, matches, candidates, agents, lineage, logger)

	crmTimeout := cfg.CRMTimeout
	crmSync := services.NewCrmSyncService(db, crmConns, crmLeads, agents, syncLogs, embedTasks,
		func(c *fub.Config) (services.CrmClient, error) {
			c.Timeout = crmTimeout
			return fub.NewClient(c, logger)
		}, logger)

	// Background workers
	runner := worker.NewRunner(logger,
		worker.Worker{Name: "parser", Interval: cfg.Workers.TransformInterval, Run: func(ctx context.Context) error {
			n, err := parser.Run(ctx, 10)
			metrics.BatchesProcessed.WithLabelValues("parse").Add(float64(n))
			return err
		}},
		worker.Worker{Name: "transformer", Interval: cfg.Workers.TransformInterval, Run: func(ctx context.Context) error {
			n, err := transformer.Run(ctx, 10)
			metrics.BatchesProcessed.WithLabelValues("transform").Add(float64(n))
			return err
		}},
		worker.Worker{Name: "matcher", Interval: cfg.Workers.MatchInterval, Run: func(ctx context.Context) error {
			_, err := matcher.Run(ctx, cfg.Workers.MatchBatchSize)
			return err
		}},
		worker.Worker{Name: "embeddings", Interval: cfg.Workers.EmbedInterval, Run: func(ctx context.Context) error {
			n, err := embedWorker.Run(ctx, cfg.Workers.EmbedBatchSize)
			metrics.EmbeddingTasksCompleted.Add(float64(n))
			return err
		}},
		worker.Worker{Name: "embed-reaper", Interval: cfg.Workers.StuckTaskTimeout, Run: func(ctx context.Context) error {
			_, err := embedWorker.RevertStuck(ctx)
			return err
		}},
		worker.Worker{Name: "crm-sync", Interval: cfg.Workers.CrmSyncInterval, Run: crmSync.Run},
		worker.Worker{Name: "candidate-sweep", Interval: cfg.Workers.SweepInterval, Run: func(ctx context.Context) error {
			n, err := review.Sweep(ctx)
			metrics.CandidatesExpired.Add(float64(n))
			return err
		}},
	)
	runner.Start(ctx)

	// HTTP surface
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(stager, batches, logger).RegisterRoutes(mux)
	handlers.NewCandidateHandler(review, logger).RegisterRoutes(mux)
	handlers.NewAdminHandler(parser, transformer, matcher, embedWorker, crmSync, review,
		cfg.Workers.MatchBatchSize, cfg.Workers.EmbedBatchSize, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting lead-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	runner.Wait()
	return nil
}

// migrateUp runs schema migrations over a short-lived database/sql
// connection; the pgx pool stays dedicated to the application.
func migrateUp(connStr, path string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, path, logger)
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, cfg.Storage.Bucket, cfg.Storage.Region)
	default:
		return storage.NewFSStore(cfg.Storage.Root)
	}
}
