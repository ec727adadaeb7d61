package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/repository"
)

type GeoZoneRepo struct{ db *sql.DB }

func NewGeoZoneRepo(db *sql.DB) repository.GeoZoneRepository {
	return &GeoZoneRepo{db: db}
}

func (repo *GeoZoneRepo) List(ctx context.Context) ([]entity.GeoZone, error) {
	const query = `SELECT id, name, code, level, keys, uris FROM geozones ORDER BY id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	zones := make([]entity.GeoZone, 0, 256)
	for rows.Next() {
		var (
			z          entity.GeoZone
			keys, uris []byte
		)
		if err := rows.Scan(&z.ID, &z.Name, &z.Code, &z.Level, &keys, &uris); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		if len(keys) > 0 {
			if err := json.Unmarshal(keys, &z.Keys); err != nil {
				return nil, fmt.Errorf("List: unmarshal keys: %w", err)
			}
		}
		if len(uris) > 0 {
			if err := json.Unmarshal(uris, &z.URIs); err != nil {
				return nil, fmt.Errorf("List: unmarshal uris: %w", err)
			}
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (repo *GeoZoneRepo) Upsert(ctx context.Context, zones []entity.GeoZone) (int, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
INSERT INTO geozones (id, name, code, level, keys, uris)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
       name  = EXCLUDED.name,
       code  = EXCLUDED.code,
       level = EXCLUDED.level,
       keys  = EXCLUDED.keys,
       uris  = EXCLUDED.uris`
	for _, z := range zones {
		keys, err := jsonArray(z.Keys)
		if err != nil {
			return 0, fmt.Errorf("Upsert: %w", err)
		}
		uris, err := jsonArray(z.URIs)
		if err != nil {
			return 0, fmt.Errorf("Upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, z.ID, z.Name, z.Code, z.Level, keys, uris); err != nil {
			return 0, fmt.Errorf("Upsert %s: %w", z.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Upsert: commit: %w", err)
	}
	return len(zones), nil
}
