package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/domain/normalize"
	"udata-harvest/internal/usecase/harvest"
)

// ExtraPrefix namespaces the CKAN extras kept on the dataset.
const ExtraPrefix = "ckan:"

var (
	frequencyKeys = []string{"frequency", "accrual_periodicity", "update_frequency"}
	spatialKeys   = []string{"spatial-uri", "spatial-text", "spatial"}
	temporalStart = []string{"temporal_start", "temporal_coverage_from"}
	temporalEnd   = []string{"temporal_end", "temporal_coverage_to"}
)

// ToCanonical maps a package onto the dataset draft.
func (b *Backend) ToCanonical(ctx context.Context, src *entity.HarvestSource, rec *harvest.RemoteRecord, existing *entity.Dataset) (*harvest.MappingResult, error) {
	pkg, ok := rec.Raw.(*Package)
	if !ok {
		return nil, fmt.Errorf("ckan: unexpected record payload %T", rec.Raw)
	}
	now := b.now()
	remoteID := rec.Identity("")

	d := harvest.NewDraft(src, existing, remoteID, now)
	d.Title = strings.TrimSpace(pkg.Title)
	d.Description = normalize.StripHTML(pkg.Notes)
	d.Tags = uniqueTags(pkg.Tags)
	if pkg.LicenseID != "" {
		d.License = pkg.LicenseID
	}
	d.Harvest.RemoteURL = rec.URL
	d.Harvest.CreatedAt = normalize.ParseDate(pkg.MetadataCreated)
	d.Harvest.ModifiedAt = normalize.ParseDate(pkg.MetadataModified)

	extras := extrasMap(pkg.Extras)
	for key := range d.Extras {
		if strings.HasPrefix(key, ExtraPrefix) {
			delete(d.Extras, key)
		}
	}

	if raw, ok := first(extras, frequencyKeys); ok {
		normalize.ApplyFrequency(d, raw)
	}
	normalize.ApplySpatial(d, b.norm.Zones, values(extras, spatialKeys)...)
	start, _ := first(extras, temporalStart)
	end, _ := first(extras, temporalEnd)
	if s, e := normalize.ParseDate(start), normalize.ParseDate(end); s != nil || e != nil {
		d.Temporal = &entity.TemporalCoverage{Start: s, End: e}
	}

	consumed := make(map[string]bool)
	for _, keys := range [][]string{frequencyKeys, spatialKeys, temporalStart, temporalEnd} {
		for _, k := range keys {
			consumed[k] = true
		}
	}
	for _, e := range pkg.Extras {
		if consumed[e.Key] || e.Key == "" {
			continue
		}
		d.SetExtra(ExtraPrefix+e.Key, string(e.Value))
	}

	resources := make([]entity.Resource, 0, len(pkg.Resources))
	for _, r := range pkg.Resources {
		resources = append(resources, mapResource(r))
	}
	events := harvest.MergeResources(d, resources, now)

	if err := b.norm.ValidateSchemas(ctx, d); err != nil {
		return nil, &harvest.MappingError{RemoteID: remoteID, Err: err}
	}
	return &harvest.MappingResult{Dataset: d, Events: events}, nil
}

func mapResource(r Resource) entity.Resource {
	res := entity.Resource{
		Title:       strings.TrimSpace(r.Name),
		Description: normalize.StripHTML(r.Description),
		URL:         strings.TrimSpace(r.URL),
		Type:        "main",
		Format:      strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.Format), ".")),
		Mime:        strings.ToLower(strings.TrimSpace(r.Mimetype)),
		Schema:      parseSchema(r.Schema),
		Harvest: &entity.ResourceHarvest{
			RemoteID:   r.ID,
			CreatedAt:  normalize.ParseDate(r.Created),
			ModifiedAt: normalize.ParseDate(r.LastModified),
		},
	}
	if res.Title == "" {
		res.Title = path.Base(res.URL)
	}
	if n, ok := r.Size.Int64(); ok {
		res.Filesize = &n
	}
	if r.Hash != "" {
		res.Checksum = parseChecksum(r.Hash)
	}
	if res.Harvest.CreatedAt != nil {
		res.CreatedAt = *res.Harvest.CreatedAt
	}
	if res.Harvest.ModifiedAt != nil {
		res.LastModified = *res.Harvest.ModifiedAt
	}
	return res
}

// parseChecksum accepts "sha256:abc" or a bare digest, typed by its length.
func parseChecksum(hash string) *entity.Checksum {
	hash = strings.TrimSpace(hash)
	if typ, value, ok := strings.Cut(hash, ":"); ok {
		return &entity.Checksum{Type: strings.ToLower(typ), Value: value}
	}
	typ := "sha1"
	switch len(hash) {
	case 32:
		typ = "md5"
	case 64:
		typ = "sha256"
	}
	return &entity.Checksum{Type: typ, Value: hash}
}

// parseSchema reads a resource schema given as an object, a URL or a name.
func parseSchema(raw json.RawMessage) *entity.SchemaRef {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		switch {
		case s == "":
			return nil
		case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
			return &entity.SchemaRef{URL: s}
		default:
			return &entity.SchemaRef{Name: s}
		}
	}
	var ref entity.SchemaRef
	if err := json.Unmarshal(raw, &ref); err != nil || (ref == entity.SchemaRef{}) {
		return nil
	}
	return &ref
}

func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func extrasMap(extras []Extra) map[string]string {
	m := make(map[string]string, len(extras))
	for _, e := range extras {
		m[e.Key] = strings.TrimSpace(string(e.Value))
	}
	return m
}

func first(m map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v, true
		}
	}
	return "", false
}

func values(m map[string]string, keys []string) []string {
	var out []string
	for _, k := range keys {
		if v := m[k]; v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Attributes returns the filterable values of a package, keyed like
// the declared filters.
func Attributes(pkg *Package) map[string][]string {
	attrs := map[string][]string{
		"tags":   pkg.Tags,
		"groups": pkg.Groups,
	}
	if pkg.Organization != nil {
		attrs["organization"] = []string{pkg.Organization.Name, pkg.Organization.Title}
	}
	if pkg.LicenseID != "" {
		attrs["license_id"] = []string{pkg.LicenseID}
	}
	for _, r := range pkg.Resources {
		if r.Format != "" {
			attrs["res_format"] = append(attrs["res_format"], r.Format)
		}
	}
	return attrs
}
