package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/repository"
)

// JobStore drives job state transitions and item recording on top of the
// job repository. A JobStore without repository keeps jobs in memory only,
// which is how previews run.
type JobStore struct {
	repo repository.JobRepository
	now  func() time.Time
	mu   sync.Mutex
}

// NewJobStore returns a store persisting through repo.
func NewJobStore(repo repository.JobRepository) *JobStore {
	return &JobStore{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func newMemoryJobStore(now func() time.Time) *JobStore {
	return &JobStore{now: now}
}

// StartJob creates a pending job for src and moves it to running.
func (s *JobStore) StartJob(ctx context.Context, src *entity.HarvestSource) (*entity.HarvestJob, error) {
	job := &entity.HarvestJob{
		SourceID:  src.ID,
		Status:    entity.JobPending,
		CreatedAt: s.now(),
	}
	if s.repo == nil {
		job.ID = uuid.NewString()
	} else if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	job.Start(s.now())
	if s.repo != nil {
		if err := s.repo.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("start job: %w", err)
		}
	}
	return job, nil
}

// RecordItem appends one item to the job. Concurrent callers are
// serialized, so the in-memory list and the stored list keep the same order.
func (s *JobStore) RecordItem(ctx context.Context, job *entity.HarvestJob, item entity.HarvestItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.Items = append(job.Items, item)
	if s.repo == nil {
		return nil
	}
	// The run budget may already be spent; the item must still be stored.
	if err := s.repo.AppendItem(context.WithoutCancel(ctx), job.ID, item); err != nil {
		return fmt.Errorf("record item %q: %w", item.RemoteID, err)
	}
	return nil
}

// FinishJob computes the terminal status and stores the job.
func (s *JobStore) FinishJob(ctx context.Context, job *entity.HarvestJob) error {
	s.mu.Lock()
	job.Finish(s.now())
	s.mu.Unlock()
	return s.save(ctx, job, "finish job")
}

// FailJob ends the job as failed with a top-level error.
func (s *JobStore) FailJob(ctx context.Context, job *entity.HarvestJob, cause error) error {
	s.mu.Lock()
	job.Fail(cause, s.now())
	s.mu.Unlock()
	return s.save(ctx, job, "fail job")
}

// Save stores mutable job fields such as events and graphs.
func (s *JobStore) Save(ctx context.Context, job *entity.HarvestJob) error {
	return s.save(ctx, job, "save job")
}

func (s *JobStore) save(ctx context.Context, job *entity.HarvestJob, op string) error {
	if s.repo == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Update(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetLastJob returns the most recent job of a source.
func (s *JobStore) GetLastJob(ctx context.Context, sourceID string) (*entity.HarvestJob, error) {
	return s.repo.GetLast(ctx, sourceID)
}

// ListJobs returns the latest jobs of a source, newest first.
func (s *JobStore) ListJobs(ctx context.Context, sourceID string, limit int) ([]*entity.HarvestJob, error) {
	return s.repo.ListBySource(ctx, sourceID, limit)
}

// PurgeJobs hard-deletes jobs older than retentionDays, never removing the
// most recent job of a source.
func (s *JobStore) PurgeJobs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("purge jobs: retention must be positive, got %d", retentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	n, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("purge jobs: %w", err)
	}
	return n, nil
}
