// Package main provides the recast server: HTTP API, job workers and recovery scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raphaelgruber/recast/internal/config"
	"github.com/raphaelgruber/recast/internal/db"
	"github.com/raphaelgruber/recast/internal/embedding"
	"github.com/raphaelgruber/recast/internal/engine"
	"github.com/raphaelgruber/recast/internal/llm"
	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/pgstore"
	"github.com/raphaelgruber/recast/internal/refine"
	"github.com/raphaelgruber/recast/internal/retry"
	"github.com/raphaelgruber/recast/internal/scheduler"
	"github.com/raphaelgruber/recast/internal/server"
	"github.com/raphaelgruber/recast/internal/store"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, "recast-server")
	slog.SetDefault(logger)

	err := run(cfg, logger)
	_ = closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngine(reg)

	jobs, closeJobs, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	if err := seedInstances(ctx, cfg, jobs, logger); err != nil {
		return err
	}

	records, closeRecords, err := openRecordStore(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer closeRecords()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	model, err := llm.NewModel(connectCtx, cfg, collector)
	cancel()
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	embedders := llm.NewEmbedders(cfg, collector)

	refineCfg := refine.DefaultConfig()
	refineCfg.Permanent = llm.IsFatal

	orchCfg := engine.DefaultConfig()
	orchCfg.PageSize = cfg.PageSize
	orchCfg.TickBudget = cfg.TickBudget
	orchCfg.Store = retry.External(30 * time.Second)

	orch := engine.NewOrchestrator(orchCfg, engine.Deps{
		Jobs:    jobs,
		Records: records,
		Refiner: refine.New(model, refineCfg, logger),
		FanOut:  embedding.NewFanOut(embedding.DefaultConfig(), logger),
		Embedders: func(name string) (embedding.Embedder, error) {
			e, err := embedders.For(name)
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		Metrics: engineMetrics,
		Logger:  logger,
	})
	queue := engine.NewQueue(cfg.QueueSize, cfg.TickDelay, engineMetrics, logger)
	svc := engine.NewService(jobs, orch, queue, logger)

	sched := scheduler.New(scheduler.Config{
		Interval:   cfg.RecoveryInterval,
		StaleAfter: 2 * cfg.TickBudget,
		Location:   cfg.Location(),
	}, jobs, svc, logger)

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(fmt.Sprintf(":%d", cfg.ServerPort), server.Deps{
		Engine:     svc,
		Jobs:       jobs,
		Collector:  collector,
		Gatherer:   reg,
		TickBudget: cfg.TickBudget,
	}, logger)

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		svc.Run(ctx, cfg.Workers)
	}()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()
	logger.Info("recast-server ready",
		"port", cfg.ServerPort,
		"record_store", cfg.RecordStore,
		"workers", cfg.Workers,
		"page_size", cfg.PageSize)

	select {
	case err = <-serveErr:
		stop()
	case <-ctx.Done():
		logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("server forced to shutdown", "error", shutdownErr)
	}
	<-workersDone
	<-schedDone

	logger.Info("server stopped")
	return err
}

// openJobStore connects Postgres when DATABASE_URL is set and keeps jobs in
// memory otherwise.
func openJobStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.JobStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, job state will not survive a restart")
		return store.NewMemory(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pg, err := store.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(connectCtx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate job store: %w", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Error("failed to close job store", "error", err)
		}
	}, nil
}

// openRecordStore connects the backend named by RECORD_STORE.
func openRecordStore(ctx context.Context, cfg config.Config, logger *slog.Logger, collector *metrics.Collector) (engine.RecordStore, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.RecordStore {
	case config.RecordStoreSurrealDB:
		client, err := db.NewClient(connectCtx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger, collector)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to SurrealDB: %w", err)
		}
		return client, func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Error("failed to close SurrealDB", "error", err)
			}
		}, nil
	case config.RecordStorePgvector:
		if cfg.PgvectorURL == "" {
			return nil, nil, errors.New("PGVECTOR_URL is required when RECORD_STORE=pgvector")
		}
		pg, err := pgstore.New(connectCtx, cfg.PgvectorURL, collector)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to pgvector: %w", err)
		}
		return pg, pg.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
}

// seedInstances upserts the instances file, if configured.
func seedInstances(ctx context.Context, cfg config.Config, jobs store.JobStore, logger *slog.Logger) error {
	if cfg.InstancesFile == "" {
		return nil
	}
	instances, err := config.LoadInstances(cfg.InstancesFile)
	if err != nil {
		return err
	}
	for i := range instances {
		if err := engine.ValidateInstance(&instances[i]); err != nil {
			logger.Warn("instance has invalid settings, jobs will fail until fixed",
				"instance_id", instances[i].ID, "error", err)
		}
		if err := jobs.UpsertInstance(ctx, &instances[i]); err != nil {
			return fmt.Errorf("seed instance %s: %w", instances[i].ID, err)
		}
	}
	logger.Info("instances loaded", "file", cfg.InstancesFile, "count", len(instances))
	return nil
}
