package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/infra/adapter/persistence/postgres"
)

var jobCols = []string{
	"id", "source_id", "status", "created_at", "started_at", "ended_at",
	"items", "errors", "events", "graphs", "truncated",
}

func TestJobRepo_Create(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	job := &entity.HarvestJob{SourceID: "src-1", Status: entity.JobPending}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO harvest_jobs`)).
		WithArgs(sqlmock.AnyArg(), "src-1", "pending", sqlmock.AnyArg(), nil, nil,
			[]byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`[]`), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, postgres.NewJobRepo(db).Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_AppendItem(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	item := entity.HarvestItem{RemoteID: "r-1", Status: entity.ItemSuccess, Position: 0}
	mock.ExpectExec(regexp.QuoteMeta(`SET items = items || $1::jsonb WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET items = items || $1::jsonb`)).
		WithArgs(sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := postgres.NewJobRepo(db)
	require.NoError(t, repo.AppendItem(context.Background(), "job-1", item))
	err := repo.AppendItem(context.Background(), "gone", item)
	assert.True(t, errors.Is(err, entity.ErrNotFound), "err=%v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	created := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM harvest_jobs WHERE id = $1`)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			"job-1", "src-1", "done-errors", created, started, nil,
			[]byte(`[{"remote_id":"a","status":"success","position":0},{"remote_id":"b","status":"failed","position":1,"errors":[{"kind":"mapping","message":"bad"}]}]`),
			[]byte(`[]`), []byte(`[]`), []byte(`[]`), false,
		))

	job, err := postgres.NewJobRepo(db).Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.JobDoneErrors, job.Status)
	require.Len(t, job.Items, 2)
	assert.Equal(t, "b", job.Items[1].RemoteID)
	assert.Equal(t, entity.ItemFailed, job.Items[1].Status)
	require.Len(t, job.Items[1].Errors, 1)
	assert.Equal(t, "bad", job.Items[1].Errors[0].Message)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
	assert.Nil(t, job.EndedAt)
}

func TestJobRepo_GetLastNotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC LIMIT 1`)).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := postgres.NewJobRepo(db).GetLast(context.Background(), "src-1")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestJobRepo_ListBySourceDefaultLimit(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE source_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`)).
		WithArgs("src-1", 20).
		WillReturnRows(sqlmock.NewRows(jobCols))

	jobs, err := postgres.NewJobRepo(db).ListBySource(context.Background(), "src-1", 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_PurgeOlderThanBatches(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	before := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM harvest_jobs WHERE id IN (SELECT id FROM doomed)`)).
		WithArgs(before, 500).
		WillReturnResult(sqlmock.NewResult(0, 500))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM harvest_jobs`)).
		WithArgs(before, 500).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := postgres.NewJobRepo(db).PurgeOlderThan(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(512), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
