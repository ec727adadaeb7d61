// Package ckan harvests CKAN portals through the action API (v3).
package ckan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/infra/backend"
	"udata-harvest/internal/usecase/harvest"
)

const (
	// FeatureSkipPrivate skips packages flagged private.
	FeatureSkipPrivate = "ckan:skip_private"

	searchPageSize = 1000
	maxSearchPages = 500
)

// Skip reasons recorded on skipped items.
const (
	SkipNotDataset  = "not a dataset"
	SkipPrivate     = "private"
	SkipDeleted     = "deleted"
	SkipNoResources = "no resources"
)

// ErrNoPackage is returned by a ResultDecoder when the result holds no
// package, which is reported as a missing record.
var ErrNoPackage = errors.New("no package in result")

// ResultDecoder turns the package_show result into a Package.
type ResultDecoder func(result json.RawMessage) (*Package, error)

// Backend implements harvest.Backend for CKAN.
type Backend struct {
	client *backend.Client
	norm   harvest.Normalizers
	now    func() time.Time

	kind        entity.BackendKind
	displayName string
	decode      ResultDecoder
}

// Option customizes a Backend.
type Option func(*Backend)

// WithKind registers the backend under another kind, for CKAN-compatible
// APIs.
func WithKind(kind entity.BackendKind, displayName string) Option {
	return func(b *Backend) {
		b.kind = kind
		b.displayName = displayName
	}
}

// WithResultDecoder replaces the package_show result decoding.
func WithResultDecoder(fn ResultDecoder) Option {
	return func(b *Backend) { b.decode = fn }
}

// WithClock sets the clock stamping harvest dates.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a CKAN backend.
func New(client *backend.Client, norm harvest.Normalizers, opts ...Option) *Backend {
	b := &Backend{
		client:      client,
		norm:        norm,
		now:         func() time.Time { return time.Now().UTC() },
		kind:        entity.BackendCKAN,
		displayName: "CKAN",
		decode:      decodePackage,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Filters declared by CKAN. Keys are Solr fields of package_search.
var Filters = []harvest.FilterDef{
	{Key: "organization", Label: "Organization", Description: "A CKAN organization name"},
	{Key: "tags", Label: "Tag", Description: "A CKAN tag"},
	{Key: "groups", Label: "Group", Description: "A CKAN group name"},
	{Key: "res_format", Label: "Resource format", Description: "A resource format such as CSV"},
	{Key: "license_id", Label: "License", Description: "A CKAN license identifier"},
}

// Features declared by CKAN.
var Features = []harvest.FeatureDef{
	{Key: FeatureSkipPrivate, Label: "Skip private datasets", Description: "Ignore packages flagged private", Default: true},
}

func (b *Backend) Info() harvest.BackendInfo {
	return harvest.BackendInfo{
		Kind:        b.kind,
		DisplayName: b.displayName,
		Filters:     Filters,
		Features:    Features,
	}
}

// Action calls a CKAN action and decodes its result into out.
func (b *Backend) Action(ctx context.Context, src *entity.HarvestSource, action string, params url.Values, out any) error {
	endpoint := actionURL(src.URL, action, params)
	resp, err := b.client.Get(ctx, endpoint, "application/json", action)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return fmt.Errorf("%s failed: %s", action, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", action, err)
	}
	return nil
}

// ListRemoteIDs uses package_list without filters and package_search with
// the filters pushed down otherwise.
func (b *Backend) ListRemoteIDs(ctx context.Context, src *entity.HarvestSource) (*harvest.Listing, error) {
	if len(src.Filters) == 0 {
		var names []string
		if err := b.Action(ctx, src, "package_list", nil, &names); err != nil {
			return nil, &harvest.EnumerationError{URL: actionURL(src.URL, "package_list", nil), Err: err}
		}
		return &harvest.Listing{IDs: names}, nil
	}

	q := SearchQuery(src.Filters)
	var ids []string
	for page, start := 0, 0; page < maxSearchPages; page++ {
		params := url.Values{
			"q":     {q},
			"rows":  {strconv.Itoa(searchPageSize)},
			"start": {strconv.Itoa(start)},
		}
		var res searchResult
		if err := b.Action(ctx, src, "package_search", params, &res); err != nil {
			return nil, &harvest.EnumerationError{URL: actionURL(src.URL, "package_search", params), Err: err}
		}
		for _, p := range res.Results {
			if p.ID != "" {
				ids = append(ids, p.ID)
			} else {
				ids = append(ids, p.Name)
			}
		}
		start += len(res.Results)
		if len(res.Results) == 0 || start >= res.Count {
			break
		}
	}
	return &harvest.Listing{IDs: ids, FiltersApplied: true}, nil
}

// SearchQuery renders filters as a Solr query: include filters as
// key:value, exclude filters negated, all joined with AND. Values holding
// whitespace or Solr syntax are quoted so they stay one term.
func SearchQuery(filters []entity.Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		value := f.Value
		if strings.ContainsAny(value, " \t\"():") {
			value = strconv.Quote(value)
		}
		term := fmt.Sprintf("%s:%s", f.Key, value)
		if f.Type == entity.FilterExclude {
			term = "-" + term
		}
		parts = append(parts, term)
	}
	return strings.Join(parts, " AND ")
}

func (b *Backend) FetchRemoteRecord(ctx context.Context, src *entity.HarvestSource, id string) (*harvest.RemoteRecord, error) {
	endpoint := actionURL(src.URL, "package_show", url.Values{"id": {id}})
	resp, err := b.client.Get(ctx, endpoint, "application/json", "package_show")
	if err != nil {
		return nil, fetchError(id, resp, err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &harvest.MalformedRecordError{RemoteID: id, Fields: entity.ValidationErrors{
			{Message: "response is not valid JSON: " + err.Error()},
		}}
	}
	if !env.Success {
		if env.Error.notFound() {
			return nil, &harvest.RemoteFetchError{RemoteID: id, NotFound: true}
		}
		msg := "unknown error"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return nil, &harvest.RemoteFetchError{RemoteID: id, Status: resp.Status, Err: errors.New(msg)}
	}

	pkg, err := b.decode(env.Result)
	if errors.Is(err, ErrNoPackage) {
		return nil, &harvest.RemoteFetchError{RemoteID: id, NotFound: true}
	}
	if err != nil {
		return nil, &harvest.MalformedRecordError{RemoteID: id, Fields: entity.ValidationErrors{
			{Message: "cannot decode package: " + err.Error()},
		}}
	}
	return b.record(src, id, pkg)
}

// record validates pkg and applies the skip policy.
func (b *Backend) record(src *entity.HarvestSource, id string, pkg *Package) (*harvest.RemoteRecord, error) {
	var fields entity.ValidationErrors
	if pkg.ID == "" && pkg.Name == "" {
		fields.Add("id", "id or name is required")
	}
	if strings.TrimSpace(pkg.Title) == "" {
		fields.Add("title", "is required")
	}
	if len(fields) > 0 {
		return nil, &harvest.MalformedRecordError{RemoteID: pkg.ID, Name: pkg.Name, Fields: fields}
	}

	rec := &harvest.RemoteRecord{
		RemoteID: pkg.ID,
		Name:     pkg.Name,
		URL:      datasetURL(src.URL, pkg.Name),
		Raw:      pkg,
	}
	switch {
	case pkg.Type != "" && pkg.Type != "dataset":
		rec.Skip = SkipNotDataset
	case pkg.Private && src.Feature(FeatureSkipPrivate, true):
		rec.Skip = SkipPrivate
	case pkg.State == "deleted":
		rec.Skip = SkipDeleted
	case len(pkg.Resources) == 0:
		rec.Skip = SkipNoResources
	}
	if rec.Skip != "" {
		return rec, nil
	}

	for i, r := range pkg.Resources {
		if strings.TrimSpace(r.URL) == "" {
			fields.Add(fmt.Sprintf("resources[%d].url", i), "is required")
		}
	}
	if len(fields) > 0 {
		return nil, &harvest.MalformedRecordError{RemoteID: pkg.ID, Name: pkg.Name, Fields: fields}
	}
	return rec, nil
}

func fetchError(id string, resp *backend.Response, err error) error {
	status := backend.Status(err)
	if status == http.StatusNotFound {
		return &harvest.RemoteFetchError{RemoteID: id, Status: status, NotFound: true}
	}
	if resp != nil && status != 0 {
		var env envelope
		if json.Unmarshal(resp.Body, &env) == nil && env.Error.notFound() {
			return &harvest.RemoteFetchError{RemoteID: id, Status: status, NotFound: true}
		}
	}
	return &harvest.RemoteFetchError{RemoteID: id, Status: status, Err: err}
}

func decodePackage(result json.RawMessage) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(result, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func actionURL(base, action string, params url.Values) string {
	u := strings.TrimRight(base, "/") + "/api/3/action/" + action
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func datasetURL(base, name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/dataset/" + url.PathEscape(name)
}
