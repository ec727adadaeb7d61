// Package entity defines the core domain entities of the harvesting engine:
// harvest sources, jobs and their items, and the harvest-owned subset of the
// canonical Dataset, along with their validation rules and domain errors.
package entity

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"udata-harvest/internal/utils/text"
)

// BackendKind identifies the remote protocol a source is harvested with.
type BackendKind string

const (
	BackendCKAN BackendKind = "ckan"
	BackendDCAT BackendKind = "dcat"
	BackendDKAN BackendKind = "dkan"
)

// BackendKinds lists every supported backend kind.
var BackendKinds = []BackendKind{BackendCKAN, BackendDCAT, BackendDKAN}

// Valid reports whether k is a supported backend kind.
func (k BackendKind) Valid() bool {
	for _, known := range BackendKinds {
		if k == known {
			return true
		}
	}
	return false
}

// FilterType tells whether a filter keeps or drops matching records.
type FilterType string

const (
	FilterInclude FilterType = "include"
	FilterExclude FilterType = "exclude"
)

// Filter restricts the records harvested from a source.
type Filter struct {
	Key   string     `json:"key" yaml:"key"`
	Value string     `json:"value" yaml:"value"`
	Type  FilterType `json:"type" yaml:"type"`
}

// ValidationState is the moderation state of a source.
type ValidationState string

const (
	ValidationPending  ValidationState = "pending"
	ValidationAccepted ValidationState = "accepted"
	ValidationRefused  ValidationState = "refused"
)

// SourceValidation records who moderated a source and when.
type SourceValidation struct {
	State   ValidationState `json:"state"`
	By      string          `json:"by,omitempty"`
	Comment string          `json:"comment,omitempty"`
	On      *time.Time      `json:"on,omitempty"`
}

// HarvestSource is a configured recurring harvest target.
// URL and Backend determine which adapter is used to talk to the remote catalog.
type HarvestSource struct {
	ID             string
	Name           string
	Slug           string
	Description    string
	URL            string
	Backend        BackendKind
	OrganizationID *string
	OwnerID        *string
	Schedule       string // cron expression, empty for manual runs
	Active         bool
	Filters        []Filter
	Features       map[string]bool
	MaxItems       *int
	Validation     SourceValidation
	CreatedAt      time.Time
	DeletedAt      *time.Time
	ArchivedAt     *time.Time
}

// Domain returns the lower-cased host of the source URL without port.
func (s *HarvestSource) Domain() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsDeleted reports whether the source has been soft-deleted.
func (s *HarvestSource) IsDeleted() bool {
	return s.DeletedAt != nil
}

// IsSchedulable reports whether the scheduler should register the source.
func (s *HarvestSource) IsSchedulable() bool {
	return s.Active &&
		!s.IsDeleted() &&
		s.Validation.State == ValidationAccepted &&
		s.Schedule != ""
}

// Feature returns the value of a backend feature toggle, or def when unset.
func (s *HarvestSource) Feature(name string, def bool) bool {
	if v, ok := s.Features[name]; ok {
		return v
	}
	return def
}

// EnsureSlug derives the slug from the name when it is empty.
func (s *HarvestSource) EnsureSlug() {
	if s.Slug == "" {
		s.Slug = text.Slugify(s.Name)
	}
}

// cronParser accepts the standard 5-field syntax plus descriptors (@daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks that expr is a valid cron expression.
// An empty expression means the source is only run manually.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return &ValidationError{Field: "schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)}
	}
	return nil
}

// Validate validates the HarvestSource entity fields.
func (s *HarvestSource) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if err := ValidateURL(s.URL); err != nil {
		return err
	}
	if !s.Backend.Valid() {
		return &ValidationError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", s.Backend)}
	}
	if err := ValidateSchedule(s.Schedule); err != nil {
		return err
	}
	if s.MaxItems != nil && *s.MaxItems < 0 {
		return &ValidationError{Field: "max_items", Message: "max_items must be positive"}
	}
	var errs ValidationErrors
	for i, f := range s.Filters {
		path := fmt.Sprintf("filters[%d]", i)
		if f.Key == "" {
			errs.Add(path+".key", "key is required")
		}
		if f.Value == "" {
			errs.Add(path+".value", "value is required")
		}
		if f.Type != FilterInclude && f.Type != FilterExclude {
			errs.Add(path+".type", "type must be include or exclude")
		}
	}
	return errs.ErrOrNil()
}
