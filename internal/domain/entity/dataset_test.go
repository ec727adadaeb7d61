package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDataset_Key(t *testing.T) {
	d := &Dataset{}
	_, ok := d.Key()
	assert.False(t, ok)

	d.Harvest = &HarvestMetadata{Backend: BackendCKAN, RemoteID: "abc"}
	key, ok := d.Key()
	assert.True(t, ok)
	assert.Equal(t, DatasetKey{Backend: BackendCKAN, RemoteID: "abc"}, key)
	assert.Equal(t, "ckan:abc", key.String())
}

func TestDataset_ResourceByURL(t *testing.T) {
	d := &Dataset{Resources: []Resource{
		{ID: "r1", URL: "https://example.org/a.csv"},
		{ID: "r2", URL: "https://example.org/b.csv"},
	}}

	r := d.ResourceByURL("https://example.org/b.csv")
	if assert.NotNil(t, r) {
		assert.Equal(t, "r2", r.ID)
	}
	assert.Nil(t, d.ResourceByURL("https://example.org/c.csv"))
}

func TestDataset_ArchiveUnarchive(t *testing.T) {
	now := time.Now()
	d := &Dataset{Harvest: &HarvestMetadata{RemoteID: "x"}}

	d.Archive("not-on-remote", now)
	assert.True(t, d.IsArchived())
	assert.Equal(t, "not-on-remote", d.Harvest.ArchivedReason)
	assert.Equal(t, &now, d.Harvest.ArchivedAt)

	d.Unarchive()
	assert.False(t, d.IsArchived())
	assert.Nil(t, d.Harvest.ArchivedAt)
	assert.Empty(t, d.Harvest.ArchivedReason)
}

func TestDataset_SetExtra(t *testing.T) {
	d := &Dataset{}
	d.SetExtra("harvest:frequency", "every blue moon")
	assert.Equal(t, "every blue moon", d.Extras["harvest:frequency"])
}
