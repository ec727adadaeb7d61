package repository

import (
	"context"

	"udata-harvest/internal/domain/entity"
)

type GeoZoneRepository interface {
	List(ctx context.Context) ([]entity.GeoZone, error)
	Upsert(ctx context.Context, zones []entity.GeoZone) (int, error)
}
