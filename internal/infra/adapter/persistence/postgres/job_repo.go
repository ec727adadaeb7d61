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

// purgeBatchSize bounds each DELETE issued by PurgeOlderThan.
const purgeBatchSize = 500

type JobRepo struct{ db *sql.DB }

func NewJobRepo(db *sql.DB) repository.JobRepository {
	return &JobRepo{db: db}
}

const jobColumns = `id, source_id, status, created_at, started_at, ended_at, items, errors, events, graphs, truncated`

func scanJob(row rowScanner) (*entity.HarvestJob, error) {
	var (
		job                           entity.HarvestJob
		status                        string
		items, errs, events, graphs []byte
	)
	if err := row.Scan(
		&job.ID, &job.SourceID, &status, &job.CreatedAt, &job.StartedAt, &job.EndedAt,
		&items, &errs, &events, &graphs, &job.Truncated,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)

	for _, part := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"items", items, &job.Items},
		{"errors", errs, &job.Errors},
		{"events", events, &job.Events},
		{"graphs", graphs, &job.Graphs},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", part.name, err)
		}
	}
	return &job, nil
}

// jsonArray marshals a slice, rendering nil as an empty JSON array.
func jsonArray[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

type jobJSON struct {
	items, errors, events, graphs []byte
}

func marshalJob(job *entity.HarvestJob) (jobJSON, error) {
	var (
		out jobJSON
		err error
	)
	if out.items, err = jsonArray(job.Items); err != nil {
		return out, fmt.Errorf("marshal items: %w", err)
	}
	if out.errors, err = jsonArray(job.Errors); err != nil {
		return out, fmt.Errorf("marshal errors: %w", err)
	}
	if out.events, err = jsonArray(job.Events); err != nil {
		return out, fmt.Errorf("marshal events: %w", err)
	}
	if out.graphs, err = jsonArray(job.Graphs); err != nil {
		return out, fmt.Errorf("marshal graphs: %w", err)
	}
	return out, nil
}

func (repo *JobRepo) Create(ctx context.Context, job *entity.HarvestJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	j, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	const query = `
INSERT INTO harvest_jobs (id, source_id, status, created_at, started_at, ended_at, items, errors, events, graphs, truncated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = repo.db.ExecContext(ctx, query,
		job.ID, job.SourceID, string(job.Status), job.CreatedAt, job.StartedAt, job.EndedAt,
		j.items, j.errors, j.events, j.graphs, job.Truncated,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// AppendItem concatenates in SQL so concurrent appends never overwrite each other.
func (repo *JobRepo) AppendItem(ctx context.Context, jobID string, item entity.HarvestItem) error {
	payload, err := json.Marshal([]entity.HarvestItem{item})
	if err != nil {
		return fmt.Errorf("AppendItem: marshal: %w", err)
	}
	const query = `UPDATE harvest_jobs SET items = items || $1::jsonb WHERE id = $2`
	res, err := repo.db.ExecContext(ctx, query, payload, jobID)
	if err != nil {
		return fmt.Errorf("AppendItem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("AppendItem: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *JobRepo) Update(ctx context.Context, job *entity.HarvestJob) error {
	j, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	const query = `
UPDATE harvest_jobs SET
       status     = $1,
       started_at = $2,
       ended_at   = $3,
       items      = $4,
       errors     = $5,
       events     = $6,
       graphs     = $7,
       truncated  = $8
WHERE id = $9`
	res, err := repo.db.ExecContext(ctx, query,
		string(job.Status), job.StartedAt, job.EndedAt,
		j.items, j.errors, j.events, j.graphs, job.Truncated, job.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *JobRepo) Get(ctx context.Context, id string) (*entity.HarvestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM harvest_jobs WHERE id = $1`
	job, err := scanJob(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return job, nil
}

func (repo *JobRepo) GetLast(ctx context.Context, sourceID string) (*entity.HarvestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM harvest_jobs WHERE source_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	job, err := scanJob(repo.db.QueryRowContext(ctx, query, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetLast: %w", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetLast: %w", err)
	}
	return job, nil
}

func (repo *JobRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]*entity.HarvestJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + jobColumns + ` FROM harvest_jobs WHERE source_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := repo.db.QueryContext(ctx, query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListBySource: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*entity.HarvestJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListBySource: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// PurgeOlderThan deletes in batches ordered by creation date. The latest job
// of every source is excluded by the correlated subquery.
func (repo *JobRepo) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	const query = `
WITH doomed AS (
    SELECT j.id FROM harvest_jobs j
    WHERE j.created_at < $1
      AND j.id <> (
          SELECT l.id FROM harvest_jobs l
          WHERE l.source_id = j.source_id
          ORDER BY l.created_at DESC, l.id DESC
          LIMIT 1)
    ORDER BY j.created_at ASC
    LIMIT $2)
DELETE FROM harvest_jobs WHERE id IN (SELECT id FROM doomed)`

	var total int64
	for {
		res, err := repo.db.ExecContext(ctx, query, before, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("PurgeOlderThan: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
