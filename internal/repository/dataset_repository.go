package repository

import (
	"context"

	"udata-harvest/internal/domain/entity"
)

// MutateFunc receives the stored dataset for a key (nil when none exists)
// and returns the dataset to persist. Returning a nil dataset and nil error
// leaves the store untouched.
type MutateFunc func(existing *entity.Dataset) (*entity.Dataset, error)

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Dataset *entity.Dataset
	Created bool
}

type DatasetRepository interface {
	FindByKey(ctx context.Context, key entity.DatasetKey) (*entity.Dataset, error)
	// Upsert runs lookup, mutate and write as one atomic step per key, so
	// concurrent harvests of the same remote record never create duplicates.
	Upsert(ctx context.Context, key entity.DatasetKey, mutate MutateFunc) (*UpsertResult, error)
	// ListHarvestedBySource returns every dataset carrying the source's provenance.
	ListHarvestedBySource(ctx context.Context, sourceID string) ([]*entity.Dataset, error)
}
