package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/observability/metrics"
)

// Runner executes one harvest of a source. *harvest.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, sourceID string) (*entity.HarvestJob, error)
}

// SourceLister returns the sources to register. *source.Service satisfies it.
type SourceLister interface {
	ListSchedulable(ctx context.Context) ([]*entity.HarvestSource, error)
}

// JobPurger removes old jobs. *harvest.JobStore satisfies it.
type JobPurger interface {
	PurgeJobs(ctx context.Context, retentionDays int) (int64, error)
}

// SourcePurger removes sources soft-deleted long ago. *source.Service
// satisfies it.
type SourcePurger interface {
	PurgeDeleted(ctx context.Context, retention time.Duration) (int64, error)
}

// ScheduledSource describes one registered cron entry.
type ScheduledSource struct {
	SourceID string    `json:"source_id"`
	Slug     string    `json:"slug"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

type scheduledEntry struct {
	slug     string
	schedule string
	id       cron.EntryID
	job      cron.Job
}

// Scheduler keeps one cron entry per schedulable source and runs the
// periodic reload and retention sweep. A source whose previous run is still
// going is skipped rather than queued.
type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	runner  Runner
	sources SourceLister
	jobs    JobPurger
	deleted SourcePurger
	cfg     WorkerConfig
	metrics *WorkerMetrics
	logger  *slog.Logger
	cronLog cron.Logger

	mu      sync.Mutex
	entries map[string]*scheduledEntry
	baseCtx context.Context
	started bool
}

// NewScheduler creates a stopped scheduler. metrics may be nil.
func NewScheduler(runner Runner, sources SourceLister, jobs JobPurger, deleted SourcePurger, cfg WorkerConfig, metrics *WorkerMetrics, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLog))),
		loc:     loc,
		runner:  runner,
		sources: sources,
		jobs:    jobs,
		deleted: deleted,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		cronLog: cronLog,
		entries: make(map[string]*scheduledEntry),
		baseCtx: context.Background(),
	}, nil
}

// Start registers the maintenance entries, loads the sources and starts the
// cron loop. Runs inherit ctx; cancelling it aborts in-flight harvests.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	skip := cron.NewChain(cron.SkipIfStillRunning(s.cronLog))
	if _, err := s.cron.AddJob(s.cfg.SourceReloadSchedule, skip.Then(cron.FuncJob(func() {
		_ = s.Reload(ctx)
	}))); err != nil {
		return fmt.Errorf("add reload entry: %w", err)
	}
	if _, err := s.cron.AddJob(s.cfg.RetentionSchedule, skip.Then(cron.FuncJob(func() {
		_ = s.RunRetention(ctx)
	}))); err != nil {
		return fmt.Errorf("add retention entry: %w", err)
	}

	// A failed initial load is retried on the next reload tick.
	_ = s.Reload(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.String("timezone", s.loc.String()),
		slog.String("reload_schedule", s.cfg.SourceReloadSchedule),
		slog.String("retention_schedule", s.cfg.RetentionSchedule))
	return nil
}

// Stop halts the cron loop and returns a context done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Reload reconciles the cron entries with the schedulable sources: new
// sources are added, changed schedules replaced and vanished sources removed.
func (s *Scheduler) Reload(ctx context.Context) error {
	sources, err := s.sources.ListSchedulable(ctx)
	if err != nil {
		s.logger.Error("reload schedulable sources failed", slog.String("error", logging.SanitizeError(err)))
		if s.metrics != nil {
			s.metrics.RecordReload(false)
		}
		return fmt.Errorf("list schedulable sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	added, removed := 0, 0
	for _, src := range sources {
		if !src.IsSchedulable() {
			continue
		}
		seen[src.ID] = true
		existing, ok := s.entries[src.ID]
		if ok && existing.schedule == src.Schedule {
			existing.slug = src.Slug
			continue
		}
		schedule, err := cron.ParseStandard(src.Schedule)
		if err != nil {
			s.logger.Warn("skipping source with invalid schedule",
				slog.String("source_id", src.ID),
				slog.String("schedule", src.Schedule),
				slog.Any("error", err))
			continue
		}
		entry := existing
		if entry == nil {
			entry = &scheduledEntry{}
			entry.job = cron.NewChain(cron.SkipIfStillRunning(s.cronLog)).Then(s.runSource(src.ID))
		} else {
			s.cron.Remove(entry.id)
		}
		entry.slug = src.Slug
		entry.schedule = src.Schedule
		entry.id = s.cron.Schedule(schedule, entry.job)
		s.entries[src.ID] = entry
		added++
	}
	for id, entry := range s.entries {
		if !seen[id] {
			s.cron.Remove(entry.id)
			delete(s.entries, id)
			removed++
		}
	}

	metrics.UpdateSourcesScheduled(len(s.entries))
	if s.metrics != nil {
		s.metrics.RecordReload(true)
	}
	if added > 0 || removed > 0 {
		s.logger.Info("harvest schedule reloaded",
			slog.Int("scheduled", len(s.entries)),
			slog.Int("added", added),
			slog.Int("removed", removed))
	}
	return nil
}

func (s *Scheduler) runSource(sourceID string) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.baseCtx
		slug := ""
		if e, ok := s.entries[sourceID]; ok {
			slug = e.slug
		}
		s.mu.Unlock()

		runID := logging.NewRunID()
		ctx = logging.ContextWithRunID(ctx, runID)
		logger := s.logger.With(
			slog.String("run_id", runID),
			slog.String("source_id", sourceID),
			slog.String("slug", slug))
		ctx = logging.WithLogger(ctx, logger)

		start := time.Now()
		logger.Info("scheduled harvest started")
		job, err := s.runner.Run(ctx, sourceID)
		elapsed := time.Since(start)

		status := "error"
		if job != nil {
			status = string(job.Status)
		}
		if s.metrics != nil {
			s.metrics.RecordScheduledRun(status, elapsed.Seconds())
		}
		if err != nil {
			logger.Error("scheduled harvest failed",
				slog.String("status", status),
				slog.Duration("duration", elapsed),
				slog.String("error", logging.SanitizeError(err)))
			return
		}
		logger.Info("scheduled harvest finished",
			slog.String("job_id", job.ID),
			slog.String("status", status),
			slog.Int("items", len(job.Items)),
			slog.Duration("duration", elapsed))
	})
}

// RunRetention purges old jobs and sources soft-deleted past retention.
// Both purges are attempted; the first error is returned.
func (s *Scheduler) RunRetention(ctx context.Context) error {
	var firstErr error

	if s.jobs != nil {
		days := int(s.cfg.JobsRetention / day)
		n, err := s.jobs.PurgeJobs(ctx, days)
		if err != nil {
			s.logger.Error("purge old jobs failed", slog.String("error", logging.SanitizeError(err)))
			firstErr = err
		} else if s.metrics != nil {
			s.metrics.RecordPurged("jobs", n)
		}
		if n > 0 {
			s.logger.Info("purged old harvest jobs", slog.Int64("count", n), slog.Int("retention_days", days))
		}
	}

	if s.deleted != nil {
		n, err := s.deleted.PurgeDeleted(ctx, s.cfg.DeletedSourceRetention)
		if err != nil {
			s.logger.Error("purge deleted sources failed", slog.String("error", logging.SanitizeError(err)))
			if firstErr == nil {
				firstErr = err
			}
		} else if s.metrics != nil {
			s.metrics.RecordPurged("sources", n)
		}
	}

	if firstErr == nil && s.metrics != nil {
		s.metrics.RecordRetentionSuccess()
	}
	return firstErr
}

// Scheduled lists the registered sources ordered by next run.
func (s *Scheduler) Scheduled() []ScheduledSource {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.loc)
	out := make([]ScheduledSource, 0, len(s.entries))
	for id, e := range s.entries {
		item := ScheduledSource{SourceID: id, Slug: e.slug, Schedule: e.schedule}
		if entry := s.cron.Entry(e.id); entry.Valid() {
			item.Next = entry.Next
			if item.Next.IsZero() {
				item.Next = entry.Schedule.Next(now)
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Slug < out[j].Slug
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}
