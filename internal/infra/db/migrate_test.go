package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUp_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	for _, table := range []string{"harvest_sources", "harvest_jobs", "datasets", "geozones"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS idx_datasets_harvest_key").
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, idx := range []string{"idx_datasets_harvest_source", "idx_harvest_jobs_source_created", "idx_harvest_sources_deleted"} {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS " + idx).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, MigrateUp(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateUp_TableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_sources").
		WillReturnError(sql.ErrConnDone)

	err = MigrateUp(context.Background(), db)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	for _, table := range []string{"harvest_jobs", "datasets", "geozones", "harvest_sources"} {
		mock.ExpectExec("DROP TABLE IF EXISTS " + table).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, MigrateDown(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
