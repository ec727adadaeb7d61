package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"udata-harvest/internal/app"
	"udata-harvest/internal/config"
	"udata-harvest/internal/infra/db"
	workerPkg "udata-harvest/internal/infra/worker"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/observability/tracing"
)

// shutdownTimeout bounds the wait for running harvests and notifications.
const shutdownTimeout = 2 * time.Minute

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker stopped with error", slog.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init()
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	database, err := initDatabase(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig, _ := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	harvestConfig := workerPkg.LoadHarvestConfig(logger, workerMetrics)
	logger.Info("worker configuration loaded",
		slog.String("source_reload_schedule", workerConfig.SourceReloadSchedule),
		slog.String("retention_schedule", workerConfig.RetentionSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Int("harvest_concurrency", harvestConfig.Concurrency),
		slog.Duration("harvest_run_timeout", harvestConfig.RunTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	application, err := app.New(ctx, database, app.Options{
		Harvest:       harvestConfig,
		Integrations:  config.LoadIntegrationsConfig(logger),
		NotifyWorkers: workerConfig.NotifyMaxConcurrent,
	}, logger)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	startMetricsServer(ctx, logger, workerConfig.MetricsPort, database)

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", workerConfig.HealthPort), logger)
	for name, check := range application.Checks() {
		healthServer.AddCheck(name, workerPkg.CheckerFunc(check))
	}
	healthServer.SetChannelHealth(application.Notify)
	healthServer.SetBackends(application.Registry.Infos())
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	scheduler, err := workerPkg.NewScheduler(
		application.Harvest,
		application.Sources,
		application.Jobs,
		application.Sources,
		*workerConfig,
		workerMetrics,
		logger,
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	healthServer.SetSchedule(scheduler)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	healthServer.SetReady(true)
	logger.Info("worker started")

	<-ctx.Done()
	logger.Info("shutdown signal received")
	healthServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-scheduler.Stop().Done():
		logger.Info("running harvests finished")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout, abandoning running harvests")
	}
	if err := application.Close(shutdownCtx); err != nil {
		logger.Warn("notification shutdown incomplete", slog.Any("error", err))
	}
	logger.Info("worker stopped")
	return nil
}

// initDatabase opens the pool and applies the schema.
func initDatabase(ctx context.Context, logger *slog.Logger) (*sql.DB, error) {
	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
