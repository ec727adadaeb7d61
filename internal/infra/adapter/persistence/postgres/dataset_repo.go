package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/repository"
)

type DatasetRepo struct{ db *sql.DB }

func NewDatasetRepo(db *sql.DB) repository.DatasetRepository {
	return &DatasetRepo{db: db}
}

// datasetDocument is the JSONB body of a dataset row. Lookup keys and
// timestamps are duplicated into columns for indexing.
type datasetDocument struct {
	Title          string                   `json:"title"`
	Slug           string                   `json:"slug"`
	Description    string                   `json:"description,omitempty"`
	Tags           []string                 `json:"tags,omitempty"`
	License        string                   `json:"license,omitempty"`
	Frequency      entity.Frequency         `json:"frequency,omitempty"`
	Extras         map[string]any           `json:"extras,omitempty"`
	Spatial        *entity.SpatialCoverage  `json:"spatial,omitempty"`
	Temporal       *entity.TemporalCoverage `json:"temporal_coverage,omitempty"`
	Resources      []entity.Resource        `json:"resources,omitempty"`
	OrganizationID *string                  `json:"organization,omitempty"`
	Private        bool                     `json:"private,omitempty"`
	Harvest        *entity.HarvestMetadata  `json:"harvest,omitempty"`
}

const datasetColumns = `id, archived_at, created_at, last_modified, document`

func scanDataset(row rowScanner) (*entity.Dataset, error) {
	var (
		d   entity.Dataset
		raw []byte
		doc datasetDocument
	)
	if err := row.Scan(&d.ID, &d.ArchivedAt, &d.CreatedAt, &d.LastModified, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	d.Title = doc.Title
	d.Slug = doc.Slug
	d.Description = doc.Description
	d.Tags = doc.Tags
	d.License = doc.License
	d.Frequency = doc.Frequency
	d.Extras = doc.Extras
	d.Spatial = doc.Spatial
	d.Temporal = doc.Temporal
	d.Resources = doc.Resources
	d.OrganizationID = doc.OrganizationID
	d.Private = doc.Private
	d.Harvest = doc.Harvest
	return &d, nil
}

func marshalDocument(d *entity.Dataset) ([]byte, error) {
	return json.Marshal(datasetDocument{
		Title:          d.Title,
		Slug:           d.Slug,
		Description:    d.Description,
		Tags:           d.Tags,
		License:        d.License,
		Frequency:      d.Frequency,
		Extras:         d.Extras,
		Spatial:        d.Spatial,
		Temporal:       d.Temporal,
		Resources:      d.Resources,
		OrganizationID: d.OrganizationID,
		Private:        d.Private,
		Harvest:        d.Harvest,
	})
}

func (repo *DatasetRepo) FindByKey(ctx context.Context, key entity.DatasetKey) (*entity.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE harvest_backend = $1 AND harvest_remote_id = $2`
	d, err := scanDataset(repo.db.QueryRowContext(ctx, query, string(key.Backend), key.RemoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("FindByKey: %w", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FindByKey: %w", err)
	}
	return d, nil
}

// Upsert serializes writers of one key with a transaction-scoped advisory
// lock, then looks the dataset up, mutates it and writes it back. The
// conflict target on (harvest_backend, harvest_remote_id) keeps the pair
// unique even for writers that bypass the lock.
func (repo *DatasetRepo) Upsert(ctx context.Context, key entity.DatasetKey, mutate repository.MutateFunc) (*repository.UpsertResult, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return nil, fmt.Errorf("Upsert: lock: %w", err)
	}

	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE harvest_backend = $1 AND harvest_remote_id = $2 FOR UPDATE`
	existing, err := scanDataset(tx.QueryRowContext(ctx, query, string(key.Backend), key.RemoteID))
	if errors.Is(err, sql.ErrNoRows) {
		existing, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Upsert: select: %w", err)
	}

	next, err := mutate(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &repository.UpsertResult{Dataset: existing}, nil
	}

	created := existing == nil
	if created && next.ID == "" {
		next.ID = uuid.NewString()
	}
	if !created {
		next.ID = existing.ID
	}
	now := time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.LastModified = now

	doc, err := marshalDocument(next)
	if err != nil {
		return nil, fmt.Errorf("Upsert: marshal: %w", err)
	}
	var sourceID *string
	if next.Harvest != nil && next.Harvest.SourceID != "" {
		sourceID = &next.Harvest.SourceID
	}

	const upsert = `
INSERT INTO datasets (id, harvest_backend, harvest_remote_id, harvest_source_id, title, slug,
                      archived_at, created_at, last_modified, document)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (harvest_backend, harvest_remote_id) WHERE harvest_remote_id IS NOT NULL
DO UPDATE SET
       harvest_source_id = EXCLUDED.harvest_source_id,
       title             = EXCLUDED.title,
       slug              = EXCLUDED.slug,
       archived_at       = EXCLUDED.archived_at,
       last_modified     = EXCLUDED.last_modified,
       document          = EXCLUDED.document`
	if _, err := tx.ExecContext(ctx, upsert,
		next.ID, string(key.Backend), key.RemoteID, sourceID, next.Title, next.Slug,
		next.ArchivedAt, next.CreatedAt, next.LastModified, doc,
	); err != nil {
		return nil, fmt.Errorf("Upsert: write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Upsert: commit: %w", err)
	}
	return &repository.UpsertResult{Dataset: next, Created: created}, nil
}

func (repo *DatasetRepo) ListHarvestedBySource(ctx context.Context, sourceID string) ([]*entity.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE harvest_source_id = $1 ORDER BY created_at ASC`
	rows, err := repo.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ListHarvestedBySource: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var datasets []*entity.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("ListHarvestedBySource: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}
