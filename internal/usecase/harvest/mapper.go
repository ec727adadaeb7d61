package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/domain/normalize"
)

// Normalizers bundles the lookup data backends map records against.
// A nil Zones index resolves nothing; a nil Schemas cache accepts every
// schema reference unchecked.
type Normalizers struct {
	Zones   *normalize.ZoneIndex
	Schemas *normalize.SchemaCache
}

// NewDraft returns the dataset a mapping starts from: a copy of existing
// when the key is already stored, a fresh dataset otherwise. The harvest
// provenance block is refreshed for this source.
func NewDraft(src *entity.HarvestSource, existing *entity.Dataset, remoteID string, now time.Time) *entity.Dataset {
	var d *entity.Dataset
	if existing != nil {
		d = cloneDataset(existing)
	} else {
		d = &entity.Dataset{}
	}
	if src.OrganizationID != nil {
		org := *src.OrganizationID
		d.OrganizationID = &org
	}
	if d.Harvest == nil {
		d.Harvest = &entity.HarvestMetadata{}
	}
	d.Harvest.Backend = src.Backend
	d.Harvest.SourceID = src.ID
	d.Harvest.RemoteID = remoteID
	d.Harvest.Domain = src.Domain()
	d.Harvest.LastUpdate = now
	return d
}

func cloneDataset(src *entity.Dataset) *entity.Dataset {
	d := *src
	d.Tags = slices.Clone(src.Tags)
	d.Extras = maps.Clone(src.Extras)
	d.Resources = make([]entity.Resource, len(src.Resources))
	for i, r := range src.Resources {
		d.Resources[i] = r
		if r.Harvest != nil {
			h := *r.Harvest
			d.Resources[i].Harvest = &h
		}
	}
	if src.Spatial != nil {
		s := *src.Spatial
		s.Zones = slices.Clone(src.Spatial.Zones)
		d.Spatial = &s
	}
	if src.Temporal != nil {
		t := *src.Temporal
		d.Temporal = &t
	}
	if src.Harvest != nil {
		h := *src.Harvest
		d.Harvest = &h
	}
	return &d
}

// MergeResources replaces the harvested resources of d with incoming.
// Resources are matched by URL: a match keeps its local ID and creation
// date. Resources without harvest provenance were added locally and are
// kept. A resource.added event is returned for every new resource.
func MergeResources(d *entity.Dataset, incoming []entity.Resource, now time.Time) []entity.Event {
	byURL := make(map[string]entity.Resource, len(d.Resources))
	var local []entity.Resource
	for _, r := range d.Resources {
		if r.Harvest == nil {
			local = append(local, r)
			continue
		}
		byURL[r.URL] = r
	}

	var events []entity.Event
	merged := make([]entity.Resource, 0, len(incoming)+len(local))
	for _, r := range incoming {
		if r.Harvest == nil {
			r.Harvest = &entity.ResourceHarvest{}
		}
		if prev, ok := byURL[r.URL]; ok {
			r.ID = prev.ID
			r.CreatedAt = prev.CreatedAt
			delete(byURL, r.URL)
		} else {
			r.ID = uuid.NewString()
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			events = append(events, entity.Event{
				Type:     entity.EventResourceAdded,
				RemoteID: r.Harvest.RemoteID,
				Subject:  r.URL,
				At:       now,
			})
		}
		if r.LastModified.IsZero() {
			r.LastModified = now
		}
		merged = append(merged, r)
	}
	d.Resources = append(merged, local...)
	return events
}

// ValidateSchemas checks every resource schema reference of d. Violations
// come back as entity.ValidationErrors with paths like
// resources[0].schema.version. Without any catalog snapshot, names are
// accepted unchecked.
func (n Normalizers) ValidateSchemas(ctx context.Context, d *entity.Dataset) error {
	if n.Schemas == nil || !hasSchemaRef(d) {
		return nil
	}
	catalog, err := n.Schemas.Catalog(ctx)
	if errors.Is(err, normalize.ErrNoSchemaCatalog) {
		slog.Warn("schema catalog unavailable, schema names accepted unchecked",
			slog.Any("error", err))
		catalog, err = nil, nil
	}
	if err != nil {
		return err
	}

	var errs entity.ValidationErrors
	for i, r := range d.Resources {
		if r.Schema != nil {
			errs.Merge(normalize.ValidateSchema(catalog, fmt.Sprintf("resources[%d].schema", i), *r.Schema))
		}
	}
	return errs.ErrOrNil()
}

func hasSchemaRef(d *entity.Dataset) bool {
	for _, r := range d.Resources {
		if r.Schema != nil {
			return true
		}
	}
	return false
}
