package entity

import (
	"encoding/json"
	"time"
)

// Frequency is the canonical update frequency of a dataset.
type Frequency string

const (
	FrequencyUnknown         Frequency = "unknown"
	FrequencyPunctual        Frequency = "punctual"
	FrequencyContinuous      Frequency = "continuous"
	FrequencyHourly          Frequency = "hourly"
	FrequencyFourTimesADay   Frequency = "fourTimesADay"
	FrequencyThreeTimesADay  Frequency = "threeTimesADay"
	FrequencySemidaily       Frequency = "semidaily"
	FrequencyDaily           Frequency = "daily"
	FrequencyFourTimesAWeek  Frequency = "fourTimesAWeek"
	FrequencyThreeTimesAWeek Frequency = "threeTimesAWeek"
	FrequencySemiweekly      Frequency = "semiweekly"
	FrequencyWeekly          Frequency = "weekly"
	FrequencyBiweekly        Frequency = "biweekly"
	FrequencyThreeTimesMonth Frequency = "threeTimesAMonth"
	FrequencySemimonthly     Frequency = "semimonthly"
	FrequencyMonthly         Frequency = "monthly"
	FrequencyBimonthly       Frequency = "bimonthly"
	FrequencyQuarterly       Frequency = "quarterly"
	FrequencyThreeTimesAYear Frequency = "threeTimesAYear"
	FrequencySemiannual      Frequency = "semiannual"
	FrequencyAnnual          Frequency = "annual"
	FrequencyBiennial        Frequency = "biennial"
	FrequencyTriennial       Frequency = "triennial"
	FrequencyQuinquennial    Frequency = "quinquennial"
	FrequencyIrregular       Frequency = "irregular"
)

// SpatialCoverage is the resolved geographic coverage of a dataset.
type SpatialCoverage struct {
	Zones       []string        `json:"zones,omitempty"`
	Granularity string          `json:"granularity,omitempty"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
}

// TemporalCoverage is the period a dataset covers.
type TemporalCoverage struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// SchemaRef is the (name, version, url) triple a resource conforms to.
type SchemaRef struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Checksum of a resource file.
type Checksum struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ResourceHarvest is the provenance block of a harvested resource.
type ResourceHarvest struct {
	RemoteID   string     `json:"remote_id,omitempty"`
	URI        string     `json:"uri,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Resource is a file or API attached to a dataset.
type Resource struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	URL          string           `json:"url"`
	Type         string           `json:"type,omitempty"`
	Format       string           `json:"format,omitempty"`
	Mime         string           `json:"mime,omitempty"`
	Filesize     *int64           `json:"filesize,omitempty"`
	Checksum     *Checksum        `json:"checksum,omitempty"`
	Schema       *SchemaRef       `json:"schema,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastModified time.Time        `json:"last_modified"`
	Harvest      *ResourceHarvest `json:"harvest,omitempty"`
}

// HarvestMetadata is the provenance block the engine owns on a dataset.
// CreatedAt and ModifiedAt are the dates reported by the remote catalog.
// RemoteName is the id the remote lists the record under when it differs
// from RemoteID, such as a CKAN package name.
type HarvestMetadata struct {
	Backend        BackendKind `json:"backend"`
	SourceID       string      `json:"source_id"`
	RemoteID       string      `json:"remote_id"`
	RemoteName     string      `json:"remote_name,omitempty"`
	Domain         string      `json:"domain"`
	RemoteURL      string      `json:"remote_url,omitempty"`
	URI            string      `json:"uri,omitempty"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
	ModifiedAt     *time.Time  `json:"modified_at,omitempty"`
	LastUpdate     time.Time   `json:"last_update"`
	ArchivedAt     *time.Time  `json:"archived_at,omitempty"`
	ArchivedReason string      `json:"archived,omitempty"`
}

// Dataset is the harvest-owned subset of the canonical dataset.
type Dataset struct {
	ID             string
	Title          string
	Slug           string
	Description    string
	Tags           []string
	License        string
	Frequency      Frequency
	Extras         map[string]any
	Spatial        *SpatialCoverage
	Temporal       *TemporalCoverage
	Resources      []Resource
	OrganizationID *string
	Private        bool
	ArchivedAt     *time.Time
	CreatedAt      time.Time
	LastModified   time.Time
	Harvest        *HarvestMetadata
}

// DatasetKey identifies a harvested dataset across runs.
type DatasetKey struct {
	Backend  BackendKind
	RemoteID string
}

// String renders the key for advisory locking and logs.
func (k DatasetKey) String() string {
	return string(k.Backend) + ":" + k.RemoteID
}

// Key returns the harvest key of the dataset, or false when it carries no
// harvest provenance.
func (d *Dataset) Key() (DatasetKey, bool) {
	if d.Harvest == nil || d.Harvest.RemoteID == "" {
		return DatasetKey{}, false
	}
	return DatasetKey{Backend: d.Harvest.Backend, RemoteID: d.Harvest.RemoteID}, true
}

// ResourceByURL returns the resource with the given URL, or nil.
func (d *Dataset) ResourceByURL(url string) *Resource {
	for i := range d.Resources {
		if d.Resources[i].URL == url {
			return &d.Resources[i]
		}
	}
	return nil
}

// SetExtra sets an extra, allocating the map on first use.
func (d *Dataset) SetExtra(key string, value any) {
	if d.Extras == nil {
		d.Extras = make(map[string]any)
	}
	d.Extras[key] = value
}

// IsArchived reports whether the dataset has been archived.
func (d *Dataset) IsArchived() bool {
	return d.ArchivedAt != nil
}

// Archive marks the dataset as no longer present upstream. It is never deleted.
func (d *Dataset) Archive(reason string, now time.Time) {
	d.ArchivedAt = &now
	if d.Harvest != nil {
		d.Harvest.ArchivedAt = &now
		d.Harvest.ArchivedReason = reason
	}
}

// Unarchive clears the archival markers of a dataset seen again upstream.
func (d *Dataset) Unarchive() {
	d.ArchivedAt = nil
	if d.Harvest != nil {
		d.Harvest.ArchivedAt = nil
		d.Harvest.ArchivedReason = ""
	}
}
