package normalize

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, 01/02/2006 - 15:04",
	"01/02/2006 - 15:04",
	time.RFC1123Z,
	time.RFC1123,
	"2006",
}

// ParseDate parses the date formats seen in CKAN, DKAN and DCAT records.
// Dates without zone are read as UTC. It returns nil when nothing matches.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
