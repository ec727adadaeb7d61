package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/repository"
)

type SourceRepo struct{ db *sql.DB }

func NewSourceRepo(db *sql.DB) repository.SourceRepository {
	return &SourceRepo{db: db}
}

const sourceColumns = `id, name, slug, description, url, backend, organization_id, owner_id,
schedule, active, filters, features, max_items, validation, created_at, deleted_at, archived_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*entity.HarvestSource, error) {
	var (
		src                                entity.HarvestSource
		backend                            string
		filters, features, validationJSON []byte
	)
	if err := row.Scan(
		&src.ID, &src.Name, &src.Slug, &src.Description, &src.URL, &backend,
		&src.OrganizationID, &src.OwnerID, &src.Schedule, &src.Active,
		&filters, &features, &src.MaxItems, &validationJSON,
		&src.CreatedAt, &src.DeletedAt, &src.ArchivedAt,
	); err != nil {
		return nil, err
	}
	src.Backend = entity.BackendKind(backend)

	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &src.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal filters: %w", err)
		}
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &src.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	if len(validationJSON) > 0 {
		if err := json.Unmarshal(validationJSON, &src.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation: %w", err)
		}
	}
	return &src, nil
}

func (repo *SourceRepo) getOne(ctx context.Context, op, where string, arg any) (*entity.HarvestSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM harvest_sources WHERE ` + where + ` LIMIT 1`
	src, err := scanSource(repo.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return src, nil
}

func (repo *SourceRepo) Get(ctx context.Context, id string) (*entity.HarvestSource, error) {
	return repo.getOne(ctx, "Get", "id = $1", id)
}

func (repo *SourceRepo) GetBySlug(ctx context.Context, slug string) (*entity.HarvestSource, error) {
	return repo.getOne(ctx, "GetBySlug", "slug = $1", slug)
}

func (repo *SourceRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.HarvestSource, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	sources := make([]*entity.HarvestSource, 0, 32)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (repo *SourceRepo) List(ctx context.Context, includeDeleted bool) ([]*entity.HarvestSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM harvest_sources`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY name ASC`
	return repo.list(ctx, "List", query)
}

func (repo *SourceRepo) ListSchedulable(ctx context.Context) ([]*entity.HarvestSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM harvest_sources
WHERE deleted_at IS NULL
  AND active = TRUE
  AND schedule <> ''
  AND validation->>'state' = $1
ORDER BY name ASC`
	return repo.list(ctx, "ListSchedulable", query, string(entity.ValidationAccepted))
}

func sourceJSON(src *entity.HarvestSource) (filters, features, validation []byte, err error) {
	f := src.Filters
	if f == nil {
		f = []entity.Filter{}
	}
	if filters, err = json.Marshal(f); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal filters: %w", err)
	}
	ft := src.Features
	if ft == nil {
		ft = map[string]bool{}
	}
	if features, err = json.Marshal(ft); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal features: %w", err)
	}
	if validation, err = json.Marshal(src.Validation); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal validation: %w", err)
	}
	return filters, features, validation, nil
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (repo *SourceRepo) Create(ctx context.Context, src *entity.HarvestSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	filters, features, validation, err := sourceJSON(src)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	const query = `
INSERT INTO harvest_sources (id, name, slug, description, url, backend, organization_id, owner_id,
                             schedule, active, filters, features, max_items, validation, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = repo.db.ExecContext(ctx, query,
		src.ID, src.Name, src.Slug, src.Description, src.URL, string(src.Backend),
		src.OrganizationID, src.OwnerID, src.Schedule, src.Active,
		filters, features, src.MaxItems, validation, src.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("Create: slug %q: %w", src.Slug, entity.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *SourceRepo) Update(ctx context.Context, src *entity.HarvestSource) error {
	filters, features, validation, err := sourceJSON(src)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	const query = `
UPDATE harvest_sources SET
       name            = $1,
       slug            = $2,
       description     = $3,
       url             = $4,
       backend         = $5,
       organization_id = $6,
       owner_id        = $7,
       schedule        = $8,
       active          = $9,
       filters         = $10,
       features        = $11,
       max_items       = $12,
       validation      = $13,
       archived_at     = $14
WHERE id = $15`
	res, err := repo.db.ExecContext(ctx, query,
		src.Name, src.Slug, src.Description, src.URL, string(src.Backend),
		src.OrganizationID, src.OwnerID, src.Schedule, src.Active,
		filters, features, src.MaxItems, validation, src.ArchivedAt, src.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("Update: slug %q: %w", src.Slug, entity.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *SourceRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE harvest_sources SET deleted_at = $1, active = FALSE WHERE id = $2 AND deleted_at IS NULL`
	res, err := repo.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("SoftDelete: %w", entity.ErrNotFound)
	}
	return nil
}

// PurgeDeleted relies on ON DELETE CASCADE to remove the sources' jobs.
func (repo *SourceRepo) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM harvest_sources WHERE deleted_at IS NOT NULL AND deleted_at < $1`
	res, err := repo.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("PurgeDeleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
