package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udata-harvest/internal/domain/entity"
)

const catalogJSON = `{
  "schemas": [
    {"name": "etalab/schema-irve", "schema_type": "tableschema",
     "versions": [{"version_name": "2.0.0"}, {"version_name": "2.1.0"}]},
    {"name": "etalab/schema-bundle", "schema_type": "datapackage",
     "versions": [{"version_name": "1.0.0"}]}
  ]
}`

func testCatalog(t *testing.T) *SchemaCatalog {
	t.Helper()
	c, err := ParseSchemaCatalog([]byte(catalogJSON), time.Now(), time.Hour)
	require.NoError(t, err)
	return c
}

func TestValidateSchema(t *testing.T) {
	catalog := testCatalog(t)

	tests := []struct {
		name     string
		ref      entity.SchemaRef
		wantPath string
	}{
		{name: "url only", ref: entity.SchemaRef{URL: "https://example.org/schema.json"}},
		{name: "empty", ref: entity.SchemaRef{}},
		{name: "known name", ref: entity.SchemaRef{Name: "etalab/schema-irve"}},
		{name: "known version", ref: entity.SchemaRef{Name: "etalab/schema-irve", Version: "2.1.0"}},
		{name: "latest", ref: entity.SchemaRef{Name: "etalab/schema-irve", Version: "latest"}},
		{name: "unknown version", ref: entity.SchemaRef{Name: "etalab/schema-irve", Version: "9.9.9"}, wantPath: "resources[0].schema.version"},
		{name: "unknown name", ref: entity.SchemaRef{Name: "acme/unknown"}, wantPath: "resources[0].schema.name"},
		{name: "datapackage", ref: entity.SchemaRef{Name: "etalab/schema-bundle"}, wantPath: "resources[0].schema.name"},
		{name: "version without name", ref: entity.SchemaRef{Version: "1.0.0"}, wantPath: "resources[0].schema.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema(catalog, "resources[0].schema", tt.ref)
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}
			var ve entity.ValidationErrors
			require.True(t, errors.As(err, &ve), "got %v", err)
			require.Len(t, ve, 1)
			assert.Equal(t, tt.wantPath, ve[0].Path)
		})
	}
}

func TestValidateSchema_NoCatalog(t *testing.T) {
	assert.NoError(t, ValidateSchema(nil, "resources[0].schema", entity.SchemaRef{Name: "anything"}))
}

type stubFetcher struct {
	calls int
	data  []byte
	err   error
}

func (f *stubFetcher) FetchCatalog(ctx context.Context) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestSchemaCache_Refresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{data: []byte(catalogJSON)}
	cache := NewSchemaCache(fetcher, time.Hour, nil)
	cache.now = func() time.Time { return now }

	c1, err := cache.Catalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, c1.Schemas, 2)
	assert.Equal(t, 1, fetcher.calls)

	// fresh: served from cache
	now = now.Add(30 * time.Minute)
	_, err = cache.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	// expired and refresh fails: stale copy served
	now = now.Add(time.Hour)
	fetcher.err = errors.New("catalog down")
	c2, err := cache.Catalog(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 2, fetcher.calls)
	assert.True(t, c2.Stale(now))
}

func TestSchemaCache_BacksOffAfterFailedRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{data: []byte(catalogJSON)}
	cache := NewSchemaCache(fetcher, time.Hour, nil)
	cache.now = func() time.Time { return now }

	c1, err := cache.Catalog(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	fetcher.err = errors.New("catalog down")
	for i := 0; i < 5; i++ {
		c, err := cache.Catalog(context.Background())
		require.NoError(t, err)
		assert.Same(t, c1, c)
	}
	assert.Equal(t, 2, fetcher.calls, "one failed refresh, then stale copy without fetching")

	// the catalog is back once the backoff elapsed
	now = now.Add(RefreshBackoff)
	fetcher.err = nil
	c2, err := cache.Catalog(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, 3, fetcher.calls)
}

func TestSchemaCache_NeverFetchedBacksOff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{err: errors.New("down")}
	cache := NewSchemaCache(fetcher, time.Hour, nil)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := cache.Catalog(context.Background())
		assert.ErrorIs(t, err, ErrNoSchemaCatalog)
	}
	assert.Equal(t, 1, fetcher.calls)
}

func TestSchemaCache_NeverFetched(t *testing.T) {
	cache := NewSchemaCache(&stubFetcher{err: errors.New("down")}, time.Hour, nil)
	_, err := cache.Catalog(context.Background())
	assert.ErrorIs(t, err, ErrNoSchemaCatalog)
}

func TestSchemaCache_MalformedDocument(t *testing.T) {
	cache := NewSchemaCache(&stubFetcher{data: []byte("not json")}, time.Hour, nil)
	_, err := cache.Catalog(context.Background())
	assert.ErrorIs(t, err, ErrNoSchemaCatalog)
}
