// Package dkan harvests DKAN portals. DKAN exposes a CKAN-compatible action
// API with a few differences: package_show returns a one-element list,
// dates use the "Mon, 01/02/2006 - 15:04" layout and there is no search,
// so filters are applied client side.
package dkan

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/infra/backend"
	"udata-harvest/internal/infra/backend/ckan"
	"udata-harvest/internal/usecase/harvest"
)

const (
	pageSize = 100
	maxPages = 1000
)

// Backend implements harvest.Backend for DKAN on top of the CKAN adapter.
type Backend struct {
	*ckan.Backend
}

// New creates a DKAN backend.
func New(client *backend.Client, norm harvest.Normalizers, opts ...ckan.Option) *Backend {
	opts = append([]ckan.Option{
		ckan.WithKind(entity.BackendDKAN, "DKAN"),
		ckan.WithResultDecoder(decodeResult),
	}, opts...)
	return &Backend{Backend: ckan.New(client, norm, opts...)}
}

// ListRemoteIDs pages through current_package_list_with_resources and
// returns the filterable attributes of every package.
func (b *Backend) ListRemoteIDs(ctx context.Context, src *entity.HarvestSource) (*harvest.Listing, error) {
	listing := &harvest.Listing{Attributes: make(map[string]map[string][]string)}
	for page := 0; page < maxPages; page++ {
		params := url.Values{
			"limit":  {strconv.Itoa(pageSize)},
			"offset": {strconv.Itoa(page * pageSize)},
		}
		var raw json.RawMessage
		if err := b.Action(ctx, src, "current_package_list_with_resources", params, &raw); err != nil {
			return nil, &harvest.EnumerationError{URL: src.URL, Err: err}
		}
		pkgs, err := decodeList(raw)
		if err != nil {
			return nil, &harvest.EnumerationError{URL: src.URL, Err: err}
		}
		for _, p := range pkgs {
			id := p.ID
			if id == "" {
				id = p.Name
			}
			if id == "" {
				continue
			}
			listing.IDs = append(listing.IDs, id)
			listing.Attributes[id] = ckan.Attributes(p)
		}
		if len(pkgs) < pageSize {
			break
		}
	}
	return listing, nil
}

// decodeList accepts a flat list of packages or the list of lists some
// DKAN versions return.
func decodeList(raw json.RawMessage) ([]*ckan.Package, error) {
	var flat []*ckan.Package
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]*ckan.Package
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	var out []*ckan.Package
	for _, group := range nested {
		out = append(out, group...)
	}
	return out, nil
}

func decodeResult(result json.RawMessage) (*ckan.Package, error) {
	result = bytes.TrimSpace(result)
	if len(result) > 0 && result[0] == '[' {
		var list []*ckan.Package
		if err := json.Unmarshal(result, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 || list[0] == nil {
			return nil, ckan.ErrNoPackage
		}
		return list[0], nil
	}
	var pkg ckan.Package
	if err := json.Unmarshal(result, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}
