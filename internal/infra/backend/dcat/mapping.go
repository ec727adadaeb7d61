package dcat

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/knakk/rdf"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/domain/normalize"
	"udata-harvest/internal/usecase/harvest"
)

// ToCanonical maps a dcat:Dataset node onto the dataset draft.
func (b *Backend) ToCanonical(ctx context.Context, src *entity.HarvestSource, rec *harvest.RemoteRecord, existing *entity.Dataset) (*harvest.MappingResult, error) {
	r, ok := rec.Raw.(*Record)
	if !ok {
		return nil, fmt.Errorf("dcat: unexpected record payload %T", rec.Raw)
	}
	g, s := r.graph, r.Subject
	now := b.now()
	remoteID := rec.Identity("")

	d := harvest.NewDraft(src, existing, remoteID, now)
	d.Title = g.value(s, dctTitle)
	d.Description = normalize.StripHTML(g.value(s, dctDescription))
	d.Tags = g.values(s, dcatKeyword)
	if lic := g.value(s, dctLicense, dctRights); lic != "" {
		d.License = lic
	}
	normalize.ApplyFrequency(d, g.value(s, dctAccrualPeriodicity))

	var spatial []string
	for _, o := range g.objects(s, dctSpatial) {
		if geom := g.value(o.String(), locnGeometry); geom != "" {
			spatial = append(spatial, geom)
			continue
		}
		if o.Type() == rdf.TermIRI {
			spatial = append(spatial, o.String())
			continue
		}
		if l := g.label(o); l != "" {
			spatial = append(spatial, l)
		}
	}
	normalize.ApplySpatial(d, b.norm.Zones, spatial...)

	for _, o := range g.objects(s, dctTemporal) {
		node := o.String()
		start := normalize.ParseDate(g.value(node, dcatStartDate, schemaStartDate))
		end := normalize.ParseDate(g.value(node, dcatEndDate, schemaEndDate))
		if start != nil || end != nil {
			d.Temporal = &entity.TemporalCoverage{Start: start, End: end}
			break
		}
	}

	if isIRI(s) {
		d.Harvest.URI = s
	}
	d.Harvest.RemoteURL = g.value(s, dcatLandingPage)
	if d.Harvest.RemoteURL == "" {
		d.Harvest.RemoteURL = d.Harvest.URI
	}
	d.Harvest.CreatedAt = normalize.ParseDate(g.value(s, dctIssued))
	d.Harvest.ModifiedAt = normalize.ParseDate(g.value(s, dctModified))

	var resources []entity.Resource
	for _, o := range g.objects(s, dcatDistribution) {
		if res, ok := distribution(g, o.String()); ok {
			resources = append(resources, res)
		}
	}
	events := harvest.MergeResources(d, resources, now)

	if err := b.norm.ValidateSchemas(ctx, d); err != nil {
		return nil, &harvest.MappingError{RemoteID: remoteID, Err: err}
	}
	return &harvest.MappingResult{Dataset: d, Events: events}, nil
}

// distribution maps a dcat:Distribution node. Nodes without any URL are
// ignored.
func distribution(g *graph, node string) (entity.Resource, bool) {
	u := g.value(node, dcatDownloadURL, dcatAccessURL)
	if u == "" {
		return entity.Resource{}, false
	}
	res := entity.Resource{
		Title:       g.value(node, dctTitle),
		Description: normalize.StripHTML(g.value(node, dctDescription)),
		URL:         u,
		Type:        "main",
		Format:      formatName(g.value(node, dctFormat)),
		Mime:        strings.ToLower(strings.TrimPrefix(g.value(node, dcatMediaType), ianaMediaTypes)),
		Harvest: &entity.ResourceHarvest{
			RemoteID:   g.value(node, dctIdentifier),
			CreatedAt:  normalize.ParseDate(g.value(node, dctIssued)),
			ModifiedAt: normalize.ParseDate(g.value(node, dctModified)),
		},
	}
	if isIRI(node) {
		res.Harvest.URI = node
	}
	if res.Title == "" {
		res.Title = path.Base(strings.SplitN(u, "?", 2)[0])
	}
	if n, err := strconv.ParseInt(g.value(node, dcatByteSize), 10, 64); err == nil && n >= 0 {
		res.Filesize = &n
	}
	if c := g.value(node, spdxChecksum); c != "" {
		if v := g.value(c, spdxChecksumValue); v != "" {
			res.Checksum = &entity.Checksum{Type: checksumAlgorithm(g.value(c, spdxAlgorithm)), Value: v}
		}
	}
	if conf := g.value(node, dctConformsTo); isIRI(conf) {
		res.Schema = &entity.SchemaRef{URL: conf}
	}
	if res.Harvest.CreatedAt != nil {
		res.CreatedAt = *res.Harvest.CreatedAt
	}
	if res.Harvest.ModifiedAt != nil {
		res.LastModified = *res.Harvest.ModifiedAt
	}
	return res, true
}

// formatName reduces a format IRI (EU file-type authority, IANA) to its
// last segment.
func formatName(v string) string {
	v = strings.TrimSpace(v)
	if isIRI(v) {
		v = path.Base(strings.TrimSuffix(v, "/"))
	}
	return strings.ToLower(strings.TrimPrefix(v, "."))
}

// checksumAlgorithm maps spdx:checksumAlgorithm_sha1 and friends.
func checksumAlgorithm(iri string) string {
	if _, name, ok := strings.Cut(iri, "checksumAlgorithm_"); ok {
		return strings.ToLower(name)
	}
	if iri == "" {
		return "sha1"
	}
	return strings.ToLower(path.Base(iri))
}
