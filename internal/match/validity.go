package match

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
)

// A ValidityRule reports whether value is acceptable for field. Rules that
// do not concern field return true.
type ValidityRule func(field, value string) bool

// RejectValues rejects the listed values for fields whose name contains
// fieldSubstr. Integer values compare numerically so "075" matches "75".
func RejectValues(fieldSubstr string, values ...string) ValidityRule {
	reject := make(map[string]bool, len(values))
	for _, v := range values {
		reject[canonical(v)] = true
	}
	return func(field, value string) bool {
		if !strings.Contains(field, fieldSubstr) {
			return true
		}
		return !reject[canonical(value)]
	}
}

// DigitsOnly rejects non-numeric values for fields whose name contains
// fieldSubstr.
func DigitsOnly(fieldSubstr string) ValidityRule {
	return func(field, value string) bool {
		if !strings.Contains(field, fieldSubstr) {
			return true
		}
		v := strings.TrimSpace(value)
		if v == "" {
			return true
		}
		for _, r := range v {
			if !unicode.IsDigit(r) {
				return false
			}
		}
		return true
	}
}

// RulesFromAtlas converts the declarative rules carried by an atlas.
func RulesFromAtlas(rules []atlas.Rule) []ValidityRule {
	var out []ValidityRule
	for _, r := range rules {
		if len(r.RejectValues) > 0 {
			out = append(out, RejectValues(r.Field, r.RejectValues...))
		}
		if r.DigitsOnly {
			out = append(out, DigitsOnly(r.Field))
		}
	}
	return out
}

// ACORDRules returns the rules for ACORD field names: producer identifier
// cells sit next to percentage columns whose numbers bleed in, and percent
// use columns only hold numbers.
func ACORDRules() []ValidityRule {
	return []ValidityRule{
		RejectValues("ProducerIdentifier",
			"100", "50", "75", "80", "30", "25", "20", "60", "40", "70", "90", "10", "15"),
		DigitsOnly("UsePercent"),
	}
}

func valid(rules []ValidityRule, field, value string) bool {
	for _, r := range rules {
		if !r(field, value) {
			return false
		}
	}
	return true
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n)
	}
	return v
}
