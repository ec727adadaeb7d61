package normalize

import (
	"encoding/json"
	"strings"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/utils/text"
)

// SpatialExtraKey is the extra under which unresolved spatial values are kept.
const SpatialExtraKey = "harvest:spatial"

// ZoneIndex resolves candidate strings against the known geographic zones by
// identifier, URI, alternative key (INSEE, postal code) or folded name.
type ZoneIndex struct {
	byID   map[string]int
	byURI  map[string][]int
	byKey  map[string][]int
	byName map[string][]int
	zones  []entity.GeoZone
}

// NewZoneIndex indexes the given zones.
func NewZoneIndex(zones []entity.GeoZone) *ZoneIndex {
	ix := &ZoneIndex{
		byID:   make(map[string]int, len(zones)),
		byURI:  make(map[string][]int),
		byKey:  make(map[string][]int),
		byName: make(map[string][]int),
		zones:  zones,
	}
	for i, z := range zones {
		ix.byID[z.ID] = i
		for _, u := range z.URIs {
			ix.byURI[strings.TrimSuffix(u, "/")] = append(ix.byURI[strings.TrimSuffix(u, "/")], i)
		}
		if z.Code != "" {
			ix.byKey[z.Code] = append(ix.byKey[z.Code], i)
		}
		for _, k := range z.Keys {
			if k != z.Code {
				ix.byKey[k] = append(ix.byKey[k], i)
			}
		}
		if name := text.Fold(z.Name); name != "" {
			ix.byName[name] = append(ix.byName[name], i)
		}
	}
	return ix
}

// Len returns the number of indexed zones.
func (ix *ZoneIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.zones)
}

// Lookup returns every zone matching candidate. The most specific matcher
// that yields results wins: identifier, then URI, then key, then name.
func (ix *ZoneIndex) Lookup(candidate string) []entity.GeoZone {
	if ix == nil {
		return nil
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil
	}
	if i, ok := ix.byID[candidate]; ok {
		return []entity.GeoZone{ix.zones[i]}
	}
	if hits := ix.byURI[strings.TrimSuffix(candidate, "/")]; len(hits) > 0 {
		return ix.collect(hits)
	}
	if hits := ix.byKey[candidate]; len(hits) > 0 {
		return ix.collect(hits)
	}
	return ix.collect(ix.byName[text.Fold(candidate)])
}

func (ix *ZoneIndex) collect(hits []int) []entity.GeoZone {
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(hits))
	out := make([]entity.GeoZone, 0, len(hits))
	for _, i := range hits {
		z := ix.zones[i]
		if seen[z.ID] {
			continue
		}
		seen[z.ID] = true
		out = append(out, z)
	}
	return out
}

// Resolve returns the single zone matching candidate. Zero or several
// matches are reported as unresolved rather than guessed.
func (ix *ZoneIndex) Resolve(candidate string) (entity.GeoZone, bool) {
	hits := ix.Lookup(candidate)
	if len(hits) != 1 {
		return entity.GeoZone{}, false
	}
	return hits[0], true
}

// ApplySpatial fills the dataset spatial coverage from raw remote values.
// GeoJSON polygons become the geometry, unambiguous matches become zones and
// everything else is kept verbatim under SpatialExtraKey.
func ApplySpatial(d *entity.Dataset, ix *ZoneIndex, raws ...string) {
	var zones, unresolved []string
	var geometry json.RawMessage
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if g, ok := parseGeometry(raw); ok {
			geometry = g
			continue
		}
		if z, ok := ix.Resolve(raw); ok {
			zones = appendUnique(zones, z.ID)
			continue
		}
		unresolved = appendUnique(unresolved, raw)
	}

	if len(zones) > 0 || geometry != nil {
		if d.Spatial == nil {
			d.Spatial = &entity.SpatialCoverage{}
		}
		if len(zones) > 0 {
			d.Spatial.Zones = zones
		}
		if geometry != nil {
			d.Spatial.Geometry = geometry
		}
	}

	switch len(unresolved) {
	case 0:
		delete(d.Extras, SpatialExtraKey)
	case 1:
		d.SetExtra(SpatialExtraKey, unresolved[0])
	default:
		d.SetExtra(SpatialExtraKey, unresolved)
	}
}

// parseGeometry accepts GeoJSON Polygon and MultiPolygon geometries.
func parseGeometry(raw string) (json.RawMessage, bool) {
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, false
	}
	if (g.Type != "Polygon" && g.Type != "MultiPolygon") || len(g.Coordinates) == 0 {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
