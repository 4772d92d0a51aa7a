package match

import (
	"strings"

	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/geometry"
	"github.com/a3tai/mcp-form-atlas/internal/raster"
)

// CheckboxInput is what a strategy sees for one checkable field.
type CheckboxInput struct {
	Field  string
	Page   int
	Region geometry.Rect
	Blocks []blocks.Block
	Images *raster.PageSet
}

// Evidence is a strategy's observation. Ratio is set whenever a pixel
// measurement was taken, even if it did not indicate a mark.
type Evidence struct {
	Checked bool
	Method  Method
	Ratio   *float64
}

// CheckboxStrategy detects whether a checkbox region is marked. Strategies
// are tried in order and the first one reporting Checked wins.
type CheckboxStrategy interface {
	CanHandle(in CheckboxInput) bool
	Detect(in CheckboxInput) Evidence
}

// PixelDensity marks a box as checked when its interior ink fraction reaches
// Threshold.
type PixelDensity struct {
	Threshold float64
	Ratio     raster.RatioConfig
}

// CanHandle reports whether a page image is available for the box.
func (p PixelDensity) CanHandle(in CheckboxInput) bool {
	return in.Images.Has(in.Page)
}

// Detect measures the dark fraction inside the box.
func (p PixelDensity) Detect(in CheckboxInput) Evidence {
	ratio, ok := in.Images.DarkRatio(in.Page, in.Region, p.Ratio)
	if !ok {
		return Evidence{}
	}
	return Evidence{Checked: ratio >= p.Threshold, Method: MethodCheckboxPixel, Ratio: &ratio}
}

// checkMarkers are texts OCR produces for a marked box.
var checkMarkers = map[string]bool{
	"x": true, "1": true, "y": true, "yes": true, "$": true, "s": true,
	"checked": true, "✓": true, "✗": true,
}

// TextMarker marks a box as checked when a block centered within Margin
// pixels of the region reads as a check mark.
type TextMarker struct {
	Margin float64
}

// CanHandle always reports true; text is the fallback.
func (t TextMarker) CanHandle(CheckboxInput) bool { return true }

// Detect looks for a check-mark block near the box.
func (t TextMarker) Detect(in CheckboxInput) Evidence {
	area := in.Region.Expand(t.Margin)
	for _, b := range in.Blocks {
		if !area.Contains(b.Center()) {
			continue
		}
		if checkMarkers[strings.ToLower(strings.TrimSpace(b.Text))] {
			return Evidence{Checked: true, Method: MethodCheckboxText}
		}
	}
	return Evidence{}
}
