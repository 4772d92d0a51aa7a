// Package match reads field values out of observed text blocks using an
// atlas of field regions. Regions are shifted by the page alignment, text
// fields take the blocks inside them (or the best overlapping block) and
// checkable fields are decided by an ordered list of checkbox strategies.
package match

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/align"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/geometry"
	"github.com/a3tai/mcp-form-atlas/internal/raster"
)

// Method tags how a value was obtained.
type Method string

const (
	MethodContainment   Method = "positional_containment"
	MethodIoU           Method = "positional_iou"
	MethodCheckboxPixel Method = "positional_checkbox_pixel"
	MethodCheckboxText  Method = "positional_checkbox"
)

// CheckedValue is emitted for marked checkboxes.
const CheckedValue = "1"

// Config holds matcher thresholds.
type Config struct {
	BaseConfidence   float64
	MaxConfidence    float64
	ContainmentBonus float64
	// IoUThreshold is the minimum overlap for the fallback text match.
	IoUThreshold float64
	// RowTolerance is the vertical center distance under which blocks
	// share a line.
	RowTolerance float64
	// WideBlockFactor drops contained blocks wider than this many field
	// widths, typically section headers spanning the page.
	WideBlockFactor float64
	CheckedRatio    float64
	MarkerMargin    float64
	Ratio           raster.RatioConfig
	LabelVocabulary []string
	Align           align.Config
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		BaseConfidence:   0.85,
		MaxConfidence:    0.93,
		ContainmentBonus: 0.05,
		IoUThreshold:     0.15,
		RowTolerance:     15,
		WideBlockFactor:  3,
		CheckedRatio:     0.22,
		MarkerMargin:     5,
		Ratio:            raster.DefaultRatioConfig(),
		LabelVocabulary:  DefaultLabelVocabulary,
		Align:            align.DefaultConfig(),
	}
}

// Meta describes one matched value.
type Meta struct {
	Confidence float64  `json:"confidence"`
	Method     Method   `json:"method"`
	Page       int      `json:"page"`
	PixelRatio *float64 `json:"pixel_ratio,omitempty"`
}

// Result is the outcome of matching one document.
type Result struct {
	Values map[string]string `json:"values"`
	Meta   map[string]Meta   `json:"meta"`
	// Ratios holds the measured ink fraction of every checkable field that
	// had a usable page image, marked or not.
	Ratios    map[string]float64 `json:"ratios,omitempty"`
	Alignment align.Alignment    `json:"alignment"`
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithRules adds value validity rules.
func WithRules(rules ...ValidityRule) Option {
	return func(m *Matcher) { m.rules = append(m.rules, rules...) }
}

// WithCheckboxStrategies replaces the checkbox strategy chain.
func WithCheckboxStrategies(s ...CheckboxStrategy) Option {
	return func(m *Matcher) { m.strategies = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Matcher) { m.logger = logger }
}

// Matcher extracts field values geometrically. It is safe for concurrent
// use.
type Matcher struct {
	cfg        Config
	labels     Labeler
	calibrator *align.Calibrator
	rules      []ValidityRule
	strategies []CheckboxStrategy
	logger     *zap.Logger
}

// NewMatcher creates a Matcher. The default checkbox chain measures pixels
// first and falls back to OCR check marks.
func NewMatcher(cfg Config, opts ...Option) *Matcher {
	m := &Matcher{
		cfg:        cfg,
		labels:     NewLabeler(cfg.LabelVocabulary),
		calibrator: align.NewCalibrator(cfg.Align),
		logger:     zap.NewNop(),
		strategies: []CheckboxStrategy{
			PixelDensity{Threshold: cfg.CheckedRatio, Ratio: cfg.Ratio},
			TextMarker{Margin: cfg.MarkerMargin},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Calibrate computes the page alignment used by Match.
func (m *Matcher) Calibrate(a *atlas.Atlas, pages blocks.Pages) align.Alignment {
	return m.calibrator.Compute(a, pages)
}

// Match calibrates against the atlas anchors and extracts every field it
// can find. images may be nil.
func (m *Matcher) Match(a *atlas.Atlas, pages blocks.Pages, images *raster.PageSet) Result {
	return m.MatchAligned(a, pages, images, m.Calibrate(a, pages))
}

// MatchAligned extracts fields using a precomputed alignment. Fields on
// pages without blocks, fields whose shifted region is degenerate and
// values rejected by a validity rule are omitted.
func (m *Matcher) MatchAligned(a *atlas.Atlas, pages blocks.Pages, images *raster.PageSet, al align.Alignment) Result {
	res := Result{
		Values:    map[string]string{},
		Meta:      map[string]Meta{},
		Ratios:    map[string]float64{},
		Alignment: al,
	}
	if a == nil || a.Empty() {
		return res
	}

	rules := append(RulesFromAtlas(a.Rules), m.rules...)
	quality := al.Quality

	for page := range pages {
		pageBlocks := pages[page]
		if len(pageBlocks) == 0 {
			continue
		}
		off := al.Offset(page)

		for _, f := range a.FieldsOnPage(page) {
			region := f.Rect().Translate(off.DX, off.DY)
			if region.Empty() {
				continue
			}

			if f.Checkable() {
				ev := m.detectCheckbox(CheckboxInput{
					Field:  f.Name,
					Page:   page,
					Region: region,
					Blocks: pageBlocks,
					Images: images,
				}, &res)
				if !ev.Checked {
					continue
				}
				meta := Meta{
					Confidence: m.confidence(quality, 0),
					Method:     ev.Method,
					Page:       page,
				}
				if r, ok := res.Ratios[f.Name]; ok {
					meta.PixelRatio = &r
				}
				res.Values[f.Name] = CheckedValue
				res.Meta[f.Name] = meta
				continue
			}

			value, method := m.matchText(region, pageBlocks)
			if value == "" {
				continue
			}
			if !valid(rules, f.Name, value) {
				m.logger.Debug("value rejected by validity rule",
					zap.String("field", f.Name), zap.String("value", value))
				continue
			}
			bonus := 0.0
			if method == MethodContainment {
				bonus = m.cfg.ContainmentBonus
			}
			res.Values[f.Name] = value
			res.Meta[f.Name] = Meta{
				Confidence: m.confidence(quality, bonus),
				Method:     method,
				Page:       page,
			}
		}
	}

	m.logger.Debug("positional match complete",
		zap.String("document_type", a.DocumentType),
		zap.Int("fields", len(res.Values)),
		zap.Float64("alignment_quality", quality))
	return res
}

func (m *Matcher) detectCheckbox(in CheckboxInput, res *Result) Evidence {
	for _, s := range m.strategies {
		if !s.CanHandle(in) {
			continue
		}
		ev := s.Detect(in)
		if ev.Ratio != nil {
			res.Ratios[in.Field] = *ev.Ratio
		}
		if ev.Checked {
			return ev
		}
	}
	return Evidence{}
}

// matchText merges the value blocks whose centers fall inside region,
// falling back to the best overlapping block.
func (m *Matcher) matchText(region geometry.Rect, page []blocks.Block) (string, Method) {
	width := region.Width()
	var inside []blocks.Block
	for _, b := range page {
		if strings.TrimSpace(b.Text) == "" || !region.Contains(b.Center()) {
			continue
		}
		if width > 0 && b.Box.Width() > m.cfg.WideBlockFactor*width {
			continue
		}
		inside = append(inside, b)
	}
	if len(inside) > 0 {
		if v := mergeRows(inside, m.labels, m.cfg.RowTolerance); v != "" {
			return v, MethodContainment
		}
	}

	var (
		best    string
		bestIoU float64
	)
	for _, b := range page {
		if iou := geometry.IoU(region, b.Box); iou > bestIoU {
			bestIoU, best = iou, strings.TrimSpace(b.Text)
		}
	}
	if bestIoU < m.cfg.IoUThreshold || best == "" || m.labels.IsLabel(best) {
		return "", ""
	}
	return best, MethodIoU
}

func (m *Matcher) confidence(quality, bonus float64) float64 {
	return round3(min(m.cfg.MaxConfidence, m.cfg.BaseConfidence*quality+bonus))
}

// ConfidentlyEmpty returns "Off" for every checkable field whose measured
// ink fraction is below threshold and that was not matched as checked.
// Fields without a pixel measurement are never reported.
func ConfidentlyEmpty(res Result, threshold float64) map[string]string {
	out := map[string]string{}
	for name, ratio := range res.Ratios {
		if _, matched := res.Values[name]; matched {
			continue
		}
		if ratio < threshold {
			out[name] = "Off"
		}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
