package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS harvest_sources (
    id              UUID PRIMARY KEY,
    name            TEXT NOT NULL,
    slug            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL,
    backend         VARCHAR(20) NOT NULL,
    organization_id TEXT,
    owner_id        TEXT,
    schedule        TEXT NOT NULL DEFAULT '',
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    filters         JSONB NOT NULL DEFAULT '[]',
    features        JSONB NOT NULL DEFAULT '{}',
    max_items       INTEGER,
    validation      JSONB NOT NULL DEFAULT '{"state":"pending"}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at      TIMESTAMPTZ,
    archived_at     TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS harvest_jobs (
    id         UUID PRIMARY KEY,
    source_id  UUID NOT NULL REFERENCES harvest_sources(id) ON DELETE CASCADE,
    status     VARCHAR(20) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at TIMESTAMPTZ,
    ended_at   TIMESTAMPTZ,
    items      JSONB NOT NULL DEFAULT '[]',
    errors     JSONB NOT NULL DEFAULT '[]',
    events     JSONB NOT NULL DEFAULT '[]',
    graphs     JSONB NOT NULL DEFAULT '[]',
    truncated  BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS datasets (
    id                UUID PRIMARY KEY,
    harvest_backend   VARCHAR(20),
    harvest_remote_id TEXT,
    harvest_source_id UUID,
    title             TEXT NOT NULL,
    slug              TEXT NOT NULL,
    archived_at       TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_modified     TIMESTAMPTZ NOT NULL DEFAULT now(),
    document          JSONB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS geozones (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL,
    code  TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL DEFAULT '',
    keys  JSONB NOT NULL DEFAULT '[]',
    uris  JSONB NOT NULL DEFAULT '[]'
)`,
}

var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_datasets_harvest_key ON datasets(harvest_backend, harvest_remote_id) WHERE harvest_remote_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_harvest_source ON datasets(harvest_source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_harvest_jobs_source_created ON harvest_jobs(source_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_harvest_sources_deleted ON harvest_sources(deleted_at) WHERE deleted_at IS NOT NULL`,
}

// MigrateUp creates the harvest tables and indexes. It is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}

// MigrateDown drops every harvest table. Used by tests and local resets.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"harvest_jobs", "datasets", "geozones", "harvest_sources"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("migrate down %s: %w", table, err)
		}
	}
	return nil
}
