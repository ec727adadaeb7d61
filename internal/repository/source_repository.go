package repository

import (
	"context"
	"time"

	"udata-harvest/internal/domain/entity"
)

type SourceRepository interface {
	Get(ctx context.Context, id string) (*entity.HarvestSource, error)
	GetBySlug(ctx context.Context, slug string) (*entity.HarvestSource, error)
	// List returns sources ordered by name. Soft-deleted sources are
	// included only when includeDeleted is set.
	List(ctx context.Context, includeDeleted bool) ([]*entity.HarvestSource, error)
	// ListSchedulable returns active, accepted, non-deleted sources with a schedule.
	ListSchedulable(ctx context.Context) ([]*entity.HarvestSource, error)
	Create(ctx context.Context, source *entity.HarvestSource) error
	Update(ctx context.Context, source *entity.HarvestSource) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// PurgeDeleted hard-deletes sources soft-deleted before the cutoff
	// together with their jobs.
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}
