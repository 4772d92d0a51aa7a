// Package sources produces candidate field values from extraction sources
// other than the geometric matcher: native AcroForm values, label-value
// pairing over observed blocks, Document AI form fields and candidate sets
// prepared by external tools.
package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/a3tai/mcp-form-atlas/internal/fusion"
)

// CandidateSet is one source's values for a document.
type CandidateSet struct {
	Source string `json:"source"`
	// Confidence overrides the source weight for every field.
	Confidence *float64          `json:"confidence,omitempty"`
	Fields     map[string]string `json:"fields"`
	// Confidences carries per-field confidences and wins over Confidence.
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// NewCandidateSet returns an empty set for source.
func NewCandidateSet(source string) CandidateSet {
	return CandidateSet{Source: source, Fields: map[string]string{}, Confidences: map[string]float64{}}
}

// Len returns the number of non-blank values.
func (s CandidateSet) Len() int {
	n := 0
	for _, v := range s.Fields {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// Merge copies values for fields s does not have yet.
func (s *CandidateSet) Merge(other CandidateSet) {
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	for name, v := range other.Fields {
		if _, ok := s.Fields[name]; ok {
			continue
		}
		s.Fields[name] = v
		if c, ok := other.Confidences[name]; ok {
			if s.Confidences == nil {
				s.Confidences = map[string]float64{}
			}
			s.Confidences[name] = c
		}
	}
}

// AddTo feeds the set into a fusion engine.
func (s CandidateSet) AddTo(e *fusion.Engine) {
	switch {
	case len(s.Confidences) > 0:
		conf := s.Confidences
		if s.Confidence != nil {
			conf = make(map[string]float64, len(s.Fields))
			for name := range s.Fields {
				conf[name] = *s.Confidence
			}
			for name, c := range s.Confidences {
				conf[name] = c
			}
		}
		e.AddScoredResults(s.Source, s.Fields, conf)
	case s.Confidence != nil:
		e.AddResultsWithConfidence(s.Source, s.Fields, *s.Confidence)
	default:
		e.AddResults(s.Source, s.Fields)
	}
}

// LoadFile reads candidate sets from a JSON file holding one set or an
// array of sets.
func LoadFile(path string) ([]CandidateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate file: %w", err)
	}
	sets, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sets, nil
}

// Decode parses one candidate set or an array of them.
func Decode(data []byte) ([]CandidateSet, error) {
	data = bytes.TrimSpace(data)
	var sets []CandidateSet
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &sets); err != nil {
			return nil, fmt.Errorf("invalid candidate sets: %w", err)
		}
	} else {
		var one CandidateSet
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("invalid candidate set: %w", err)
		}
		sets = []CandidateSet{one}
	}
	for i, s := range sets {
		if strings.TrimSpace(s.Source) == "" {
			return nil, fmt.Errorf("candidate set %d has no source", i)
		}
	}
	return sets, nil
}
