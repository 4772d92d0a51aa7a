package match

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLabelVocabulary lists captions and column headers that appear
// inside ACORD field regions. Entries are lower-case.
var DefaultLabelVocabulary = []string{
	"agency", "carrier", "naic code", "naic", "date", "policy number",
	"named insured", "producer", "company", "code", "effective date",
	"expiration date", "type of insurance", "policy type",
	"premium", "deductible", "limit", "amount", "coverage",
	"symbol", "description", "veh #", "yr", "make", "model",
	"vin", "% use", "% owned", "rank",
	"fein or soc sec #", "zip", "state", "city", "address",
	"phone", "fax", "email", "signature", "total",
	"street", "county", "sic", "naics",
	"sub code", "issue policy", "mailing address",
	"applicant information", "general information",
	"prior carrier information", "loss history", "remarks",
	"processing instructions", "additional remarks schedule",
	"subsidiary information", "contact information",
}

// valueMarkers are single characters that are real values (checkbox marks,
// yes/no answers, currency).
var valueMarkers = map[string]bool{"x": true, "1": true, "y": true, "$": true, "s": true}

// Labeler decides whether observed text is a caption rather than a value.
type Labeler struct {
	vocabulary map[string]bool
}

// NewLabeler creates a Labeler over a caption vocabulary, compared
// case-insensitively.
func NewLabeler(vocabulary []string) Labeler {
	v := make(map[string]bool, len(vocabulary))
	for _, w := range vocabulary {
		v[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return Labeler{vocabulary: v}
}

// IsLabel reports whether text is a known caption or looks like one.
func (l Labeler) IsLabel(text string) bool {
	t := strings.TrimSpace(text)
	if l.vocabulary[strings.ToLower(t)] {
		return true
	}
	return IsLikelyLabel(t)
}

// IsLikelyLabel applies the shape heuristics for form captions:
//   - text ending in a colon
//   - a short upper-case word before an embedded colon ("RANK: 2")
//   - upper-case text with five or more letters and no digits
//   - a lone character that is not a value marker
//   - a run of single-letter tokens ("Y N")
func IsLikelyLabel(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, ":") {
		return true
	}

	if i := strings.IndexRune(t, ':'); i >= 0 {
		prefix := strings.TrimSpace(t[:i])
		if utf8.RuneCountInString(t[:i]) < 12 && utf8.RuneCountInString(prefix) >= 2 &&
			allLetters(prefix) && prefix == strings.ToUpper(prefix) {
			return true
		}
	}

	letters, digits := 0, 0
	for _, r := range t {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters >= 5 && digits == 0 && t == strings.ToUpper(t) {
		return true
	}

	if utf8.RuneCountInString(t) == 1 && !valueMarkers[strings.ToLower(t)] {
		return true
	}

	parts := strings.Fields(t)
	if len(parts) >= 2 {
		for _, p := range parts {
			if utf8.RuneCountInString(p) != 1 {
				return false
			}
		}
		return true
	}
	return false
}

func allLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
