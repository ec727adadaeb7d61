package worker

import (
	"fmt"
	"log/slog"
	"time"

	"udata-harvest/internal/pkg/config"
	"udata-harvest/internal/usecase/harvest"
)

// WorkerConfig holds the settings of the harvest worker process.
//
// Every field is loaded from the environment with fail-open semantics: an
// invalid value is logged, counted in the worker config metrics and
// replaced by its default.
type WorkerConfig struct {
	// SourceReloadSchedule is the cron expression on which the list of
	// schedulable sources is re-read and cron entries are reconciled.
	// Default: every five minutes.
	SourceReloadSchedule string

	// RetentionSchedule is the cron expression of the retention sweep
	// (old jobs and soft-deleted sources). Default: daily at 03:15.
	RetentionSchedule string

	// Timezone is the IANA timezone source schedules are evaluated in.
	Timezone string

	// NotifyMaxConcurrent bounds concurrent notification deliveries (1-50).
	NotifyMaxConcurrent int

	// JobsRetention is how long finished jobs are kept. The last job of
	// each source is always kept.
	JobsRetention time.Duration

	// DeletedSourceRetention is how long soft-deleted sources are kept
	// before they are purged with their jobs.
	DeletedSourceRetention time.Duration

	// HealthPort serves the health and introspection router (1024-65535).
	HealthPort int

	// MetricsPort serves /metrics (1024-65535).
	MetricsPort int
}

// DefaultConfig returns a WorkerConfig with production defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		SourceReloadSchedule:   "*/5 * * * *",
		RetentionSchedule:      "15 3 * * *",
		Timezone:               "UTC",
		NotifyMaxConcurrent:    10,
		JobsRetention:          365 * 24 * time.Hour,
		DeletedSourceRetention: 30 * 24 * time.Hour,
		HealthPort:             9091,
		MetricsPort:            9090,
	}
}

// Validate checks every field and reports all violations at once.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.SourceReloadSchedule); err != nil {
		errs = append(errs, fmt.Errorf("source reload schedule: %w", err))
	}
	if err := config.ValidateCronSchedule(c.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("retention schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateIntRange(c.NotifyMaxConcurrent, 1, 50); err != nil {
		errs = append(errs, fmt.Errorf("notify max concurrent: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.JobsRetention); err != nil {
		errs = append(errs, fmt.Errorf("jobs retention: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.DeletedSourceRetention); err != nil {
		errs = append(errs, fmt.Errorf("deleted source retention: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	if c.HealthPort == c.MetricsPort {
		errs = append(errs, fmt.Errorf("health port and metrics port must differ (%d)", c.HealthPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

const day = 24 * time.Hour

// LoadConfigFromEnv loads the worker configuration.
//
// Environment variables:
//   - SOURCE_RELOAD_SCHEDULE: cron expression (default "*/5 * * * *")
//   - RETENTION_SCHEDULE: cron expression (default "15 3 * * *")
//   - WORKER_TIMEZONE: IANA timezone (default "UTC")
//   - NOTIFY_MAX_CONCURRENT: 1-50 (default 10)
//   - HARVEST_JOBS_RETENTION_DAYS: 1-3650 (default 365)
//   - HARVEST_DELETED_SOURCES_RETENTION_DAYS: 1-3650 (default 30)
//   - WORKER_HEALTH_PORT: 1024-65535 (default 9091)
//   - METRICS_PORT: 1024-65535 (default 9090)
//
// The returned error is always nil; invalid values fall back to defaults.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(logger, cm)

	cfg.SourceReloadSchedule = l.String("source_reload_schedule", "SOURCE_RELOAD_SCHEDULE", cfg.SourceReloadSchedule, config.ValidateCronSchedule)
	cfg.RetentionSchedule = l.String("retention_schedule", "RETENTION_SCHEDULE", cfg.RetentionSchedule, config.ValidateCronSchedule)
	cfg.Timezone = l.String("timezone", "WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.NotifyMaxConcurrent = l.Int("notify_max_concurrent", "NOTIFY_MAX_CONCURRENT", cfg.NotifyMaxConcurrent, 1, 50)

	jobsDays := l.Int("jobs_retention_days", "HARVEST_JOBS_RETENTION_DAYS", int(cfg.JobsRetention/day), 1, 3650)
	cfg.JobsRetention = time.Duration(jobsDays) * day
	deletedDays := l.Int("deleted_sources_retention_days", "HARVEST_DELETED_SOURCES_RETENTION_DAYS", int(cfg.DeletedSourceRetention/day), 1, 3650)
	cfg.DeletedSourceRetention = time.Duration(deletedDays) * day

	cfg.HealthPort = l.Int("health_port", "WORKER_HEALTH_PORT", cfg.HealthPort, 1024, 65535)
	cfg.MetricsPort = l.Int("metrics_port", "METRICS_PORT", cfg.MetricsPort, 1024, 65535)

	l.Finish()
	return &cfg, nil
}

// LoadHarvestConfig loads the orchestrator settings.
//
// Environment variables:
//   - HARVEST_CONCURRENCY: items processed in parallel per job, 1-64 (default 4)
//   - HARVEST_MAX_ITEMS: default cap on enumerated ids, 0 for none
//   - HARVEST_RUN_TIMEOUT: wall-clock budget of a run, 1m-48h (default 6h)
//   - HARVEST_AUTOARCHIVE_GRACE_DAYS: 0-365 (default 7)
//   - HARVEST_PREVIEW_MAX_ITEMS: 1-1000 (default 20)
func LoadHarvestConfig(logger *slog.Logger, metrics *WorkerMetrics) harvest.Config {
	cfg := harvest.DefaultConfig()
	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(logger, cm)

	cfg.Concurrency = l.Int("harvest_concurrency", "HARVEST_CONCURRENCY", cfg.Concurrency, 1, 64)
	cfg.MaxItems = l.Int("harvest_max_items", "HARVEST_MAX_ITEMS", cfg.MaxItems, 0, 1_000_000)
	cfg.RunTimeout = l.Duration("harvest_run_timeout", "HARVEST_RUN_TIMEOUT", cfg.RunTimeout, time.Minute, 48*time.Hour)
	graceDays := l.Int("autoarchive_grace_days", "HARVEST_AUTOARCHIVE_GRACE_DAYS", int(cfg.AutoArchiveGrace/day), 0, 365)
	cfg.AutoArchiveGrace = time.Duration(graceDays) * day
	cfg.PreviewMaxItems = l.Int("preview_max_items", "HARVEST_PREVIEW_MAX_ITEMS", cfg.PreviewMaxItems, 1, 1000)

	l.Finish()
	return cfg
}
