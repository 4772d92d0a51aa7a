// Package fusion merges field values reported by several extraction sources.
// Candidates that agree after normalization reinforce each other; otherwise
// the most trusted source wins.
package fusion

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Source names with built-in weights.
const (
	SourceAcroForm   = "acroform"
	SourceSpatial    = "spatial"
	SourceTemplate   = "template"
	SourceSemantic   = "semantic"
	SourceLabelValue = "label_value"
	SourceVision     = "vision"
	SourceTextLLM    = "text_llm"
	SourceGapFill    = "gap_fill"
	SourcePositional = "positional"
	SourcePixelEmpty = "pixel_empty"
)

// DefaultWeights returns the built-in source weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		SourceAcroForm:   0.99,
		SourceSpatial:    0.95,
		SourceTemplate:   0.90,
		SourcePositional: 0.85,
		SourceSemantic:   0.80,
		SourceLabelValue: 0.75,
		SourceVision:     0.70,
		SourceTextLLM:    0.65,
		SourcePixelEmpty: 0.60,
		SourceGapFill:    0.50,
	}
}

// Config holds fusion weights.
type Config struct {
	// Weights override or extend DefaultWeights.
	Weights map[string]float64
	// AgreementBonus is added to a group's score per additional member.
	AgreementBonus float64
	// DefaultWeight applies to sources without a weight.
	DefaultWeight float64
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{AgreementBonus: 0.10, DefaultWeight: 0.5}
}

// Candidate is one source's value for a field.
type Candidate struct {
	Source     string  `json:"source"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FieldFusion is the fused outcome for one field.
type FieldFusion struct {
	Value          string      `json:"value"`
	Confidence     float64     `json:"confidence"`
	Source         string      `json:"source"`
	AgreementCount int         `json:"agreement_count"`
	AllSources     []Candidate `json:"all_sources"`
}

// FieldScore pairs a field with its fused confidence.
type FieldScore struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// Engine accumulates candidates for one document. Create one per document.
type Engine struct {
	mu      sync.Mutex
	weights map[string]float64
	bonus   float64
	defWt   float64
	results map[string][]Candidate
}

// EffectiveWeights returns cfg.Weights merged over the defaults.
func (c Config) EffectiveWeights() map[string]float64 {
	weights := DefaultWeights()
	for source, w := range c.Weights {
		weights[source] = w
	}
	return weights
}

// NewEngine creates an Engine with cfg.Weights merged over the defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		weights: cfg.EffectiveWeights(),
		bonus:   cfg.AgreementBonus,
		defWt:   cfg.DefaultWeight,
		results: map[string][]Candidate{},
	}
}

// Weight returns the configured weight of source.
func (e *Engine) Weight(source string) float64 {
	if w, ok := e.weights[source]; ok {
		return w
	}
	return e.defWt
}

// AddResults adds values from source at the source's weight.
func (e *Engine) AddResults(source string, values map[string]string) {
	e.AddResultsWithConfidence(source, values, e.Weight(source))
}

// AddResultsWithConfidence adds values from source at a fixed confidence.
func (e *Engine) AddResultsWithConfidence(source string, values map[string]string, confidence float64) {
	e.add(source, values, func(string) float64 { return confidence })
}

// AddScoredResults adds values with per-field confidences. Fields missing
// from confidences use the source's weight.
func (e *Engine) AddScoredResults(source string, values map[string]string, confidences map[string]float64) {
	w := e.Weight(source)
	e.add(source, values, func(field string) float64 {
		if c, ok := confidences[field]; ok {
			return c
		}
		return w
	})
}

func (e *Engine) add(source string, values map[string]string, conf func(string) float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, field := range sortedKeys(values) {
		v := values[field]
		if strings.TrimSpace(v) == "" {
			continue
		}
		e.results[field] = append(e.results[field], Candidate{Source: source, Value: v, Confidence: conf(field)})
	}
}

// Fields returns the names of fields with at least one candidate, sorted.
func (e *Engine) Fields() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.results)
}

// Candidates returns the candidates recorded for field in insertion order.
func (e *Engine) Candidates(field string) []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Candidate(nil), e.results[field]...)
}

// Fuse resolves every field.
func (e *Engine) Fuse() (map[string]string, map[string]FieldFusion) {
	e.mu.Lock()
	defer e.mu.Unlock()

	values := make(map[string]string, len(e.results))
	meta := make(map[string]FieldFusion, len(e.results))
	for field, cands := range e.results {
		if len(cands) == 0 {
			continue
		}
		f := e.fuseField(cands)
		values[field] = f.Value
		meta[field] = f
	}
	return values, meta
}

type group struct {
	members []Candidate
	score   float64
}

func (e *Engine) fuseField(cands []Candidate) FieldFusion {
	all := append([]Candidate(nil), cands...)
	if len(cands) == 1 {
		c := cands[0]
		return FieldFusion{
			Value:          c.Value,
			Confidence:     round3(c.Confidence),
			Source:         c.Source,
			AgreementCount: 1,
			AllSources:     all,
		}
	}

	var (
		order  []string
		groups = map[string]*group{}
	)
	for _, c := range cands {
		key := Normalize(c.Value)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, c)
	}

	var best *group
	for _, key := range order {
		g := groups[key]
		top := g.members[0].Confidence
		for _, m := range g.members[1:] {
			top = max(top, m.Confidence)
		}
		g.score = min(1, top+e.bonus*float64(len(g.members)-1))
		if best == nil || g.score > best.score {
			best = g
		}
	}

	winner := best.members[0]
	for _, m := range best.members[1:] {
		if m.Confidence > winner.Confidence {
			winner = m
		}
	}
	return FieldFusion{
		Value:          winner.Value,
		Confidence:     round3(best.score),
		Source:         winner.Source,
		AgreementCount: len(best.members),
		AllSources:     all,
	}
}

// LowConfidenceFields returns fields whose fused confidence is below
// threshold, lowest first.
func (e *Engine) LowConfidenceFields(threshold float64) []FieldScore {
	_, meta := e.Fuse()
	var low []FieldScore
	for field, f := range meta {
		if f.Confidence < threshold {
			low = append(low, FieldScore{Field: field, Confidence: f.Confidence})
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Confidence != low[j].Confidence {
			return low[i].Confidence < low[j].Confidence
		}
		return low[i].Field < low[j].Field
	})
	return low
}

// Disagreements returns the candidates of every field whose values
// normalize to two or more distinct values.
func (e *Engine) Disagreements() map[string][]Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := map[string][]Candidate{}
	for field, cands := range e.results {
		if len(cands) < 2 {
			continue
		}
		distinct := map[string]bool{}
		for _, c := range cands {
			distinct[Normalize(c.Value)] = true
		}
		if len(distinct) > 1 {
			out[field] = append([]Candidate(nil), cands...)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
