package repository

import (
	"context"
	"time"

	"udata-harvest/internal/domain/entity"
)

type JobRepository interface {
	Create(ctx context.Context, job *entity.HarvestJob) error
	// AppendItem atomically appends one item to the job's item list.
	// It is safe to call concurrently for the same job.
	AppendItem(ctx context.Context, jobID string, item entity.HarvestItem) error
	// Update persists status, timestamps, items, errors, events and graphs.
	Update(ctx context.Context, job *entity.HarvestJob) error
	Get(ctx context.Context, id string) (*entity.HarvestJob, error)
	// GetLast returns the most recently created job of a source.
	GetLast(ctx context.Context, sourceID string) (*entity.HarvestJob, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*entity.HarvestJob, error)
	// PurgeOlderThan hard-deletes jobs created before the cutoff, oldest
	// first, always keeping the most recent job of each source.
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}
