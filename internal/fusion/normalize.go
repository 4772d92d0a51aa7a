package fusion

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// formatting characters that never distinguish two values.
var formatting = runes.Predicate(func(r rune) bool {
	return r == ',' || unicode.Is(unicode.Sc, r) || unicode.Is(unicode.Pd, r)
})

// Normalize maps a value to its comparison key: NFKC, lower-case,
// single-spaced, without currency symbols, commas or hyphens.
func Normalize(value string) string {
	t := transform.Chain(norm.NFKC, runes.Remove(formatting))
	s, _, err := transform.String(t, value)
	if err != nil {
		s = value
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
