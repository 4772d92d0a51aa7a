package sources

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/match"
)

// PairingConfig holds label-value pairing thresholds in atlas pixels.
type PairingConfig struct {
	YTolerance float64
	MaxGap     float64
	// DefaultConfidence stands in for blocks without a recognizer score.
	DefaultConfidence float64
	MaxLabelLen       int
	MaxValueLen       int
}

// DefaultPairingConfig returns the reference thresholds.
func DefaultPairingConfig() PairingConfig {
	return PairingConfig{YTolerance: 30, MaxGap: 300, DefaultConfidence: 0.75, MaxLabelLen: 120, MaxValueLen: 200}
}

var (
	trailingColon = regexp.MustCompile(`:\s*[$%]?\s*$`)
	symbolOnly    = regexp.MustCompile(`^[%$.0-9\s]+$`)
)

// Pairer finds the value printed to the right of a field's caption.
type Pairer struct {
	cfg    PairingConfig
	labels match.Labeler
}

// NewPairer creates a Pairer. labels rejects caption text as a value.
func NewPairer(cfg PairingConfig, labels match.Labeler) *Pairer {
	return &Pairer{cfg: cfg, labels: labels}
}

// Pair looks up the declared labels of every atlas field on the field's
// page. Each observed block is used as a value at most once, in atlas
// field order.
func (p *Pairer) Pair(a *atlas.Atlas, pages blocks.Pages) CandidateSet {
	set := NewCandidateSet(fusion.SourceLabelValue)
	if a == nil {
		return set
	}
	used := map[int]map[int]bool{}
	for _, f := range a.Fields {
		if len(f.Labels) == 0 || f.Checkable() {
			continue
		}
		page := pages.Page(f.Page)
		if used[f.Page] == nil {
			used[f.Page] = map[int]bool{}
		}
		value, conf, idx, ok := p.pairField(f.Labels, page, used[f.Page])
		if !ok {
			continue
		}
		used[f.Page][idx] = true
		set.Fields[f.Name] = value
		set.Confidences[f.Name] = conf
	}
	return set
}

func (p *Pairer) pairField(labels []string, page []blocks.Block, used map[int]bool) (string, float64, int, bool) {
	bestIdx, bestLabel := -1, -1
	bestGap := p.cfg.MaxGap + 1
	for li, lb := range page {
		if !p.acceptLabel(lb.Text) || !matchesAny(lb.Text, labels) {
			continue
		}
		for vi, vb := range page {
			if vi == li || used[vi] || !p.acceptValue(vb.Text) {
				continue
			}
			gap, ok := p.rightOf(vb, lb)
			if ok && gap < bestGap {
				bestGap, bestIdx, bestLabel = gap, vi, li
			}
		}
	}
	if bestIdx < 0 {
		return "", 0, 0, false
	}
	def := p.cfg.DefaultConfidence
	conf := min(page[bestLabel].ConfidenceOr(def), page[bestIdx].ConfidenceOr(def))
	return strings.TrimSpace(page[bestIdx].Text), conf, bestIdx, true
}

// rightOf reports the horizontal gap when v starts to the right of l on the
// same line.
func (p *Pairer) rightOf(v, l blocks.Block) (float64, bool) {
	dy := v.Center().Y - l.Center().Y
	if dy < -p.cfg.YTolerance || dy > p.cfg.YTolerance {
		return 0, false
	}
	gap := v.Box.X0 - l.Box.X1
	if gap <= 0 || gap > p.cfg.MaxGap {
		return 0, false
	}
	return gap, true
}

func (p *Pairer) acceptLabel(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && utf8.RuneCountInString(t) <= p.cfg.MaxLabelLen
}

func (p *Pairer) acceptValue(text string) bool {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return false
	case trailingColon.MatchString(t):
		return false
	case utf8.RuneCountInString(t) <= 2 && symbolOnly.MatchString(t):
		return false
	case utf8.RuneCountInString(t) > p.cfg.MaxValueLen:
		return false
	}
	return !p.labels.IsLabel(t)
}

// matchesAny reports whether text and one of labels are equal or contain
// each other after normalization.
func matchesAny(text string, labels []string) bool {
	tn := labelKey(text)
	if tn == "" {
		return false
	}
	for _, l := range labels {
		ln := labelKey(l)
		if ln != "" && (tn == ln || strings.Contains(tn, ln) || strings.Contains(ln, tn)) {
			return true
		}
	}
	return false
}

func labelKey(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(fusion.Normalize(s), ":"))
}
