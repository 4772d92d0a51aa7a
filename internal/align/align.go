// Package align estimates how a scanned document is shifted relative to its
// atlas. Static anchor labels are located among the observed blocks and
// the per-page median displacement becomes that page's offset.
package align

import (
	"sort"
	"strings"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// Config holds calibration thresholds.
type Config struct {
	// MaxAnchorDistance is the Manhattan distance, in atlas pixels, beyond
	// which an anchor candidate is treated as a misdetection.
	MaxAnchorDistance float64
	// QualityFloor is the alignment quality reported when no anchor matched.
	QualityFloor float64
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{MaxAnchorDistance: 500, QualityFloor: 0.7}
}

// Offset is the translation from atlas to scan coordinates on one page.
type Offset struct {
	Page int     `json:"page"`
	DX   float64 `json:"dx"`
	DY   float64 `json:"dy"`
	// Anchors is the number of anchors accepted on this page.
	Anchors int `json:"anchors"`
	// LowQuality is set when the page has anchors in the atlas but none
	// matched, so the zero offset is a guess.
	LowQuality bool `json:"low_quality,omitempty"`
}

// AnchorMatch records where one anchor was found.
type AnchorMatch struct {
	Anchor   atlas.Anchor   `json:"anchor"`
	Observed geometry.Point `json:"observed"`
	Text     string         `json:"text"`
	Distance float64        `json:"distance"`
}

// Alignment is the calibration result for one document.
type Alignment struct {
	Offsets      map[int]Offset `json:"offsets"`
	Matches      []AnchorMatch  `json:"matches,omitempty"`
	TotalAnchors int            `json:"total_anchors"`
	Quality      float64        `json:"quality"`
}

// Offset returns the offset for page, zero when the page was not calibrated.
func (a Alignment) Offset(page int) Offset {
	if off, ok := a.Offsets[page]; ok {
		return off
	}
	return Offset{Page: page}
}

// Pages returns calibrated page numbers in ascending order.
func (a Alignment) Pages() []int {
	pages := make([]int, 0, len(a.Offsets))
	for p := range a.Offsets {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Calibrator computes alignments. It holds configuration only and is safe
// for concurrent use.
type Calibrator struct {
	cfg Config
}

// NewCalibrator creates a Calibrator. Zero config values take defaults.
func NewCalibrator(cfg Config) *Calibrator {
	def := DefaultConfig()
	if cfg.MaxAnchorDistance <= 0 {
		cfg.MaxAnchorDistance = def.MaxAnchorDistance
	}
	if cfg.QualityFloor <= 0 || cfg.QualityFloor > 1 {
		cfg.QualityFloor = def.QualityFloor
	}
	return &Calibrator{cfg: cfg}
}

// Compute matches every atlas anchor against the observed blocks of its page
// and derives a median offset per page. Every observed page gets an entry;
// pages without an accepted anchor keep a zero offset.
func (c *Calibrator) Compute(a *atlas.Atlas, pages blocks.Pages) Alignment {
	result := Alignment{Offsets: make(map[int]Offset, len(pages)), Quality: 1}
	for i := range pages {
		result.Offsets[i] = Offset{Page: i}
	}
	if a == nil || len(a.Anchors) == 0 {
		return result
	}
	result.TotalAnchors = len(a.Anchors)

	byPage := a.AnchorsByPage()
	matched := 0
	for page, anchors := range byPage {
		if page < 0 || page >= len(pages) {
			continue
		}
		var dxs, dys []float64
		for _, an := range anchors {
			m, ok := c.locate(an, pages[page])
			if !ok {
				continue
			}
			result.Matches = append(result.Matches, m)
			dxs = append(dxs, m.Observed.X-an.X)
			dys = append(dys, m.Observed.Y-an.Y)
		}
		if len(dxs) == 0 {
			result.Offsets[page] = Offset{Page: page, LowQuality: true}
			continue
		}
		matched += len(dxs)
		result.Offsets[page] = Offset{
			Page:    page,
			DX:      geometry.Median(dxs),
			DY:      geometry.Median(dys),
			Anchors: len(dxs),
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		mi, mj := result.Matches[i].Anchor, result.Matches[j].Anchor
		if mi.Page != mj.Page {
			return mi.Page < mj.Page
		}
		return mi.Text < mj.Text
	})
	result.Quality = c.quality(matched, result.TotalAnchors)
	return result
}

// quality maps the matched-anchor fraction onto [floor, 1].
func (c *Calibrator) quality(matched, total int) float64 {
	if total == 0 {
		return 1
	}
	floor := c.cfg.QualityFloor
	return min(1, floor+(1-floor)*float64(matched)/float64(total))
}

// locate finds the closest block whose text equals, contains or is
// contained in the anchor text, ignoring case.
func (c *Calibrator) locate(an atlas.Anchor, page []blocks.Block) (AnchorMatch, bool) {
	want := strings.ToUpper(strings.TrimSpace(an.Text))
	if want == "" {
		return AnchorMatch{}, false
	}

	var (
		best     AnchorMatch
		bestDist = -1.0
	)
	for _, b := range page {
		text := strings.ToUpper(strings.TrimSpace(b.Text))
		if text == "" || !(strings.Contains(text, want) || strings.Contains(want, text)) {
			continue
		}
		center := b.Center()
		d := geometry.Manhattan(center, an.Position())
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = AnchorMatch{Anchor: an, Observed: center, Text: b.Text, Distance: d}
		}
	}
	if bestDist < 0 || bestDist >= c.cfg.MaxAnchorDistance {
		return AnchorMatch{}, false
	}
	return best, true
}
