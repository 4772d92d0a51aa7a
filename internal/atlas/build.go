package atlas

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/acroform"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
)

// DefaultAnchorLabels are captions printed on every ACORD commercial form.
var DefaultAnchorLabels = []string{
	"AGENCY", "CARRIER", "NAIC CODE", "POLICY NUMBER", "DATE", "NAMED INSURED", "PRODUCER",
}

// DefaultDriftThreshold is the corner movement, in pixels, above which a
// field is reported as drifting between two reference documents.
const DefaultDriftThreshold = 5.0

// BuildOptions configures Build.
type BuildOptions struct {
	DocumentType string
	Name         string
	DPI          float64
	AnchorLabels []string
}

// Builder derives atlases from reference AcroForm PDFs.
type Builder struct {
	forms  *acroform.Reader
	logger *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{forms: acroform.NewReader(logger), logger: logger}
}

// Build reads widget rectangles and anchor label positions from a
// reference PDF whose form fields sit where every scanned instance will
// have them.
func (b *Builder) Build(pdfPath string, opts BuildOptions) (*Atlas, error) {
	if opts.DocumentType == "" {
		return nil, fmt.Errorf("document type is required")
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	labels := opts.AnchorLabels
	if labels == nil {
		labels = DefaultAnchorLabels
	}

	formFields, err := b.forms.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read form fields: %w", err)
	}

	a := &Atlas{DocumentType: opts.DocumentType, Name: opts.Name, DPI: dpi}
	for _, ff := range formFields {
		kind, ok := kindFor(ff.Kind)
		if !ok || len(ff.Widgets) == 0 {
			continue
		}
		if len(ff.Widgets) > 1 {
			b.logger.Debug("field has several widgets, using the first",
				zap.String("field", ff.Name), zap.Int("widgets", len(ff.Widgets)))
		}
		w := ff.Widgets[0]
		r := w.PixelRect(dpi)
		a.Fields = append(a.Fields, Field{
			Name: ff.Name,
			Page: w.Page,
			XMin: round1(r.X0),
			YMin: round1(r.Y0),
			XMax: round1(r.X1),
			YMax: round1(r.Y1),
			Kind: kind,
		})
	}

	text, err := blocks.FromPDF(pdfPath, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to read text layer: %w", err)
	}
	a.Anchors = FindAnchors(text, labels)

	b.logger.Info("built atlas",
		zap.String("atlas", a.DocumentType),
		zap.String("path", pdfPath),
		zap.Int("fields", len(a.Fields)),
		zap.Int("anchors", len(a.Anchors)))
	return a, nil
}

func kindFor(k acroform.Kind) (Kind, bool) {
	switch k {
	case acroform.KindText, acroform.KindChoice:
		return KindText, true
	case acroform.KindCheckbox:
		return KindCheckbox, true
	case acroform.KindRadio:
		return KindRadio, true
	default:
		return "", false
	}
}

// FindAnchors locates each label in reading order. A block matches when its
// upper-cased text equals the label or starts with it; the first match of
// each label wins and is recorded at the block center.
func FindAnchors(pages blocks.Pages, labels []string) []Anchor {
	var anchors []Anchor
	used := make(map[string]bool, len(labels))

	for _, page := range pages {
		for _, blk := range page {
			text := strings.ToUpper(strings.TrimSpace(blk.Text))
			for _, label := range labels {
				if used[label] {
					continue
				}
				if text == label || strings.HasPrefix(text, label) {
					c := blk.Center()
					anchors = append(anchors, Anchor{Text: label, Page: blk.Page, X: round1(c.X), Y: round1(c.Y)})
					used[label] = true
					break
				}
			}
		}
	}
	return anchors
}

// Drift describes a field whose region differs between two atlases.
type Drift struct {
	Field       string  `json:"field"`
	PageChanged bool    `json:"page_changed,omitempty"`
	MaxDelta    float64 `json:"max_delta"`
}

// Compare reports fields present in both atlases that moved pages or whose
// corners moved more than threshold pixels, sorted by name.
func Compare(a, b *Atlas, threshold float64) []Drift {
	var out []Drift
	for _, fa := range a.Fields {
		fb, ok := b.Field(fa.Name)
		if !ok {
			continue
		}
		if fa.Page != fb.Page {
			out = append(out, Drift{Field: fa.Name, PageChanged: true})
			continue
		}
		d := max(
			math.Abs(fa.XMin-fb.XMin),
			math.Abs(fa.YMin-fb.YMin),
			math.Abs(fa.XMax-fb.XMax),
			math.Abs(fa.YMax-fb.YMax),
		)
		if d > threshold {
			out = append(out, Drift{Field: fa.Name, MaxDelta: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
