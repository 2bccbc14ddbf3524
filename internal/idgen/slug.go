// Package idgen generates deterministic external IDs: ASCII slugs, a small
// template DSL for per-model ID construction, and first-come-first-served
// duplicate suffix tracking.
package idgen

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLen is the maximum length of a slug and of a final external ID.
const MaxSlugLen = 64

// asciiFold decomposes characters (NFKD) and drops the combining marks, so
// accented letters reduce to their ASCII base: José -> Jose.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a value to an ASCII identifier, truncated to MaxSlugLen.
func Slug(value string) string {
	return SlugN(value, MaxSlugLen)
}

// SlugN converts a value to an ASCII identifier of at most max characters:
// NFKD decomposition, ASCII transliteration, lowercase, runs of
// non-alphanumerics collapsed to a single underscore, leading and trailing
// underscores stripped. Truncation strips any underscore it exposes.
// Empty input yields "". SlugN is idempotent: SlugN(SlugN(x)) == SlugN(x).
func SlugN(value string, max int) string {
	if value == "" {
		return ""
	}

	folded, _, err := transform.String(asciiFold, value)
	if err != nil {
		// Transliteration is best-effort; fall back to the raw input and
		// let the ASCII filter below drop what it cannot represent.
		folded = value
	}

	var b strings.Builder

	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}

	s := strings.ToLower(b.String())
	s = nonAlnumRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")

	if len(s) > max {
		s = strings.TrimRight(s[:max], "_")
	}

	return s
}
