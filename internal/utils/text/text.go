// Package text provides small string helpers shared by the harvest normalizers
// and the source slug generation.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns a comparison key for s: lower-cased, diacritics removed and every
// run of non-alphanumeric characters collapsed into a single space.
//
//	Fold("Saint-Étienne")   // "saint etienne"
//	Fold("  Île de France") // "ile de france"
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Slugify turns a display name into a URL-safe slug.
func Slugify(s string) string {
	return strings.ReplaceAll(Fold(s), " ", "-")
}

// CountRunes counts the number of Unicode characters (runes) in the given text.
func CountRunes(text string) int {
	return len([]rune(text))
}

// Truncate shortens text to at most max runes, appending "..." when cut.
func Truncate(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
