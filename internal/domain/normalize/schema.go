package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"udata-harvest/internal/domain/entity"
)

// LatestVersion is always accepted as a schema version.
const LatestVersion = "latest"

// schemaTypeDatapackage schemas describe packages, not resources, and cannot
// be assigned to a resource.
const schemaTypeDatapackage = "datapackage"

// CatalogSchema is one entry of the external schema catalog.
type CatalogSchema struct {
	Name       string   `json:"name"`
	Title      string   `json:"title,omitempty"`
	SchemaType string   `json:"schema_type"`
	Versions   []string `json:"versions"`
}

// Assignable reports whether resources may reference the schema.
func (s CatalogSchema) Assignable() bool {
	return s.SchemaType != schemaTypeDatapackage
}

// HasVersion reports whether version is known for this schema.
func (s CatalogSchema) HasVersion(version string) bool {
	if version == LatestVersion {
		return true
	}
	for _, v := range s.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// SchemaCatalog is an immutable snapshot of the schema catalog together with
// the moment it was fetched and how long it stays fresh.
type SchemaCatalog struct {
	Schemas   []CatalogSchema
	FetchedAt time.Time
	TTL       time.Duration
}

// Stale reports whether the snapshot is older than its TTL.
func (c *SchemaCatalog) Stale(now time.Time) bool {
	return c == nil || now.Sub(c.FetchedAt) >= c.TTL
}

// Lookup finds a schema by name.
func (c *SchemaCatalog) Lookup(name string) (CatalogSchema, bool) {
	if c == nil {
		return CatalogSchema{}, false
	}
	for _, s := range c.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return CatalogSchema{}, false
}

// ParseSchemaCatalog decodes the catalog document. Versions are published as
// objects carrying a version_name.
func ParseSchemaCatalog(data []byte, fetchedAt time.Time, ttl time.Duration) (*SchemaCatalog, error) {
	var doc struct {
		Schemas []struct {
			Name       string `json:"name"`
			Title      string `json:"title"`
			SchemaType string `json:"schema_type"`
			Versions   []struct {
				VersionName string `json:"version_name"`
			} `json:"versions"`
		} `json:"schemas"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema catalog: %w", err)
	}
	catalog := &SchemaCatalog{FetchedAt: fetchedAt, TTL: ttl}
	for _, s := range doc.Schemas {
		cs := CatalogSchema{Name: s.Name, Title: s.Title, SchemaType: s.SchemaType}
		for _, v := range s.Versions {
			cs.Versions = append(cs.Versions, v.VersionName)
		}
		catalog.Schemas = append(catalog.Schemas, cs)
	}
	return catalog, nil
}

// ValidateSchema checks a proposed schema reference against the catalog.
// A reference carrying only a URL is accepted as an external schema. A name
// must be an assignable catalog entry and a version must be known for it,
// LatestVersion excepted. When no catalog snapshot is available at all, names
// are accepted unchecked.
func ValidateSchema(catalog *SchemaCatalog, path string, ref entity.SchemaRef) error {
	if ref.Name == "" {
		if ref.Version != "" && ref.URL == "" {
			return entity.ValidationErrors{{Path: path + ".name", Message: "version given without schema name"}}
		}
		return nil
	}
	if catalog == nil {
		return nil
	}

	var errs entity.ValidationErrors
	schema, ok := catalog.Lookup(ref.Name)
	switch {
	case !ok:
		errs.Add(path+".name", fmt.Sprintf("unknown schema %q", ref.Name))
	case !schema.Assignable():
		errs.Add(path+".name", fmt.Sprintf("schema %q is not assignable to a resource", ref.Name))
	case ref.Version != "" && !schema.HasVersion(ref.Version):
		errs.Add(path+".version", fmt.Sprintf("unknown version %q for schema %q", ref.Version, ref.Name))
	}
	return errs.ErrOrNil()
}

// CatalogFetcher retrieves the raw schema catalog document.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context) ([]byte, error)
}

// ErrNoSchemaCatalog is returned when the catalog has never been fetched.
var ErrNoSchemaCatalog = errors.New("schema catalog unavailable")

// RefreshBackoff is how long SchemaCache waits after a failed refresh
// before fetching again.
const RefreshBackoff = time.Minute

// SchemaCache hands out SchemaCatalog snapshots, refreshing them once their
// TTL expires. When a refresh fails the previous snapshot is served stale
// and no refresh is attempted for RefreshBackoff.
type SchemaCache struct {
	fetcher CatalogFetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	current *SchemaCatalog
	retryAt time.Time
	lastErr error
}

// NewSchemaCache creates a cache refreshing through fetcher every ttl.
func NewSchemaCache(fetcher CatalogFetcher, ttl time.Duration, logger *slog.Logger) *SchemaCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaCache{fetcher: fetcher, ttl: ttl, now: time.Now, logger: logger}
}

// Catalog returns a fresh snapshot, a stale one when refreshing fails, or
// ErrNoSchemaCatalog when nothing was ever fetched.
func (c *SchemaCache) Catalog(ctx context.Context) (*SchemaCatalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.current.Stale(now) {
		return c.current, nil
	}
	if now.Before(c.retryAt) {
		if c.current != nil {
			return c.current, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoSchemaCatalog, c.lastErr)
	}

	data, err := c.fetcher.FetchCatalog(ctx)
	if err == nil {
		var fresh *SchemaCatalog
		fresh, err = ParseSchemaCatalog(data, now, c.ttl)
		if err == nil {
			c.current = fresh
			c.retryAt, c.lastErr = time.Time{}, nil
			return fresh, nil
		}
	}
	c.retryAt, c.lastErr = now.Add(RefreshBackoff), err

	if c.current != nil {
		c.logger.Warn("schema catalog refresh failed, serving stale copy",
			slog.Time("fetched_at", c.current.FetchedAt),
			slog.Any("error", err))
		return c.current, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSchemaCatalog, err)
}
