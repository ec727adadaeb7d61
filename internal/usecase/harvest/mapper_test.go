package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/domain/normalize"
)

func TestNewDraft(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	org := "org-1"
	src := &entity.HarvestSource{ID: "src-1", URL: "https://Data.Example.org:8443/catalog", Backend: entity.BackendDCAT, OrganizationID: &org}

	t.Run("fresh", func(t *testing.T) {
		d := NewDraft(src, nil, "remote-1", now)
		require.NotNil(t, d.Harvest)
		assert.Equal(t, entity.BackendDCAT, d.Harvest.Backend)
		assert.Equal(t, "src-1", d.Harvest.SourceID)
		assert.Equal(t, "remote-1", d.Harvest.RemoteID)
		assert.Equal(t, "data.example.org", d.Harvest.Domain)
		assert.Equal(t, now, d.Harvest.LastUpdate)
		assert.Equal(t, "org-1", *d.OrganizationID)
	})

	t.Run("existing is copied", func(t *testing.T) {
		existing := &entity.Dataset{
			ID:    "ds-1",
			Title: "Old",
			Tags:  []string{"a"},
			Resources: []entity.Resource{
				{ID: "r-1", URL: "https://example.org/a.csv", Harvest: &entity.ResourceHarvest{RemoteID: "x"}},
			},
			Harvest: &entity.HarvestMetadata{RemoteID: "remote-1", URI: "https://example.org/ds/1"},
		}
		d := NewDraft(src, existing, "remote-1", now)
		d.Tags[0] = "changed"
		d.Resources[0].Harvest.RemoteID = "changed"

		assert.Equal(t, "ds-1", d.ID)
		assert.Equal(t, "https://example.org/ds/1", d.Harvest.URI)
		assert.Equal(t, "a", existing.Tags[0])
		assert.Equal(t, "x", existing.Resources[0].Harvest.RemoteID)
	})
}

func TestMergeResources(t *testing.T) {
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := &entity.Dataset{Resources: []entity.Resource{
		{ID: "keep", URL: "https://example.org/a.csv", CreatedAt: created, Harvest: &entity.ResourceHarvest{}},
		{ID: "vanished", URL: "https://example.org/old.csv", Harvest: &entity.ResourceHarvest{}},
		{ID: "local", URL: "https://example.org/manual.pdf"},
	}}

	events := MergeResources(d, []entity.Resource{
		{Title: "A v2", URL: "https://example.org/a.csv"},
		{Title: "B", URL: "https://example.org/b.csv", Harvest: &entity.ResourceHarvest{RemoteID: "res-b"}},
	}, now)

	require.Len(t, d.Resources, 3)
	assert.Equal(t, "keep", d.Resources[0].ID)
	assert.Equal(t, "A v2", d.Resources[0].Title)
	assert.Equal(t, created, d.Resources[0].CreatedAt)
	assert.NotEmpty(t, d.Resources[1].ID)
	assert.Equal(t, now, d.Resources[1].CreatedAt)
	assert.Equal(t, "local", d.Resources[2].ID)
	assert.Nil(t, d.ResourceByURL("https://example.org/old.csv"))

	require.Len(t, events, 1)
	assert.Equal(t, entity.EventResourceAdded, events[0].Type)
	assert.Equal(t, "res-b", events[0].RemoteID)
	assert.Equal(t, "https://example.org/b.csv", events[0].Subject)
}

type staticCatalog struct {
	doc string
	err error
}

func (s staticCatalog) FetchCatalog(context.Context) ([]byte, error) {
	return []byte(s.doc), s.err
}

func TestNormalizers_ValidateSchemas(t *testing.T) {
	catalog := `{"schemas":[
		{"name":"etalab/schema-irve","schema_type":"tableschema","versions":[{"version_name":"2.2.0"}]}
	]}`

	d := &entity.Dataset{Resources: []entity.Resource{
		{URL: "https://example.org/a.csv", Schema: &entity.SchemaRef{Name: "etalab/schema-irve", Version: "2.2.0"}},
		{URL: "https://example.org/b.csv", Schema: &entity.SchemaRef{Name: "etalab/schema-irve", Version: "9.9.9"}},
		{URL: "https://example.org/c.csv", Schema: &entity.SchemaRef{Name: "unknown/schema"}},
	}}

	t.Run("violations accumulate", func(t *testing.T) {
		n := Normalizers{Schemas: normalize.NewSchemaCache(staticCatalog{doc: catalog}, time.Hour, nil)}
		err := n.ValidateSchemas(context.Background(), d)
		require.Error(t, err)

		var ve entity.ValidationErrors
		require.True(t, errors.As(err, &ve))
		require.Len(t, ve, 2)
		assert.Equal(t, "resources[1].schema.version", ve[0].Path)
		assert.Equal(t, "resources[2].schema.name", ve[1].Path)
	})

	t.Run("nil cache accepts everything", func(t *testing.T) {
		assert.NoError(t, Normalizers{}.ValidateSchemas(context.Background(), d))
	})

	t.Run("unavailable catalog accepts names unchecked", func(t *testing.T) {
		n := Normalizers{Schemas: normalize.NewSchemaCache(staticCatalog{err: errors.New("down")}, time.Hour, nil)}
		assert.NoError(t, n.ValidateSchemas(context.Background(), &entity.Dataset{Resources: []entity.Resource{
			{Schema: &entity.SchemaRef{Name: "anything"}},
		}}))
	})
}
