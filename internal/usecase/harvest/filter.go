package harvest

import (
	"sort"
	"strings"

	"udata-harvest/internal/domain/entity"
)

// applyFilters keeps the ids whose attributes satisfy every include filter
// and none of the exclude filters. Values compare case-insensitively.
// Ids without attributes only pass when there is no include filter.
func applyFilters(ids []string, attrs map[string]map[string][]string, filters []entity.Filter) []string {
	if len(filters) == 0 {
		return ids
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if matchesFilters(attrs[id], filters) {
			kept = append(kept, id)
		}
	}
	return kept
}

func matchesFilters(attrs map[string][]string, filters []entity.Filter) bool {
	for _, f := range filters {
		has := hasValue(attrs[f.Key], f.Value)
		switch f.Type {
		case entity.FilterExclude:
			if has {
				return false
			}
		default:
			if !has {
				return false
			}
		}
	}
	return true
}

func hasValue(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// dedupe removes repeated and empty ids, keeping first occurrences.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// truncate applies the max-items cap after a stable lexical sort so the
// same catalog always yields the same subset.
func truncate(ids []string, limit int) ([]string, bool) {
	if limit <= 0 || len(ids) <= limit {
		return ids, false
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return sorted[:limit], true
}
