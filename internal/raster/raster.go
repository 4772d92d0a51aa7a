// Package raster loads page images and measures how much ink sits inside a
// region, which is how checkbox marks are detected on scans.
package raster

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// RatioConfig controls dark-pixel measurement.
type RatioConfig struct {
	// DarkThreshold is the luminance (0-255) below which a pixel counts as ink.
	DarkThreshold uint8
	// Inset is the fraction trimmed from each side before counting so the
	// printed box border is excluded.
	Inset float64
}

// DefaultRatioConfig returns the thresholds tuned for 300 DPI scans.
func DefaultRatioConfig() RatioConfig {
	return RatioConfig{DarkThreshold: 140, Inset: 0.2}
}

const (
	minCrop  = 4
	minInner = 2
)

// PageSet lazily decodes page images, each at most once. A page whose image
// is missing or fails to decode is remembered as unavailable. A PageSet
// belongs to one document and is not safe for concurrent use.
type PageSet struct {
	paths  []string
	images map[int]image.Image
	errs   map[int]error
	logger *zap.Logger
}

// NewPageSet creates a PageSet. paths[i] is the image of page i; empty
// entries mark pages without an image.
func NewPageSet(paths []string, logger *zap.Logger) *PageSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageSet{
		paths:  paths,
		images: make(map[int]image.Image),
		errs:   make(map[int]error),
		logger: logger,
	}
}

// Has reports whether an image path is configured for page and has not
// already failed to load.
func (s *PageSet) Has(page int) bool {
	if s == nil || page < 0 || page >= len(s.paths) || s.paths[page] == "" {
		return false
	}
	_, failed := s.errs[page]
	return !failed
}

// Image returns the decoded image of page.
func (s *PageSet) Image(page int) (image.Image, error) {
	if s == nil || page < 0 || page >= len(s.paths) || s.paths[page] == "" {
		return nil, fmt.Errorf("no image for page %d", page)
	}
	if img, ok := s.images[page]; ok {
		return img, nil
	}
	if err, ok := s.errs[page]; ok {
		return nil, err
	}

	img, err := imaging.Open(s.paths[page], imaging.AutoOrientation(true))
	if err != nil {
		err = fmt.Errorf("failed to open page image %s: %w", s.paths[page], err)
		s.errs[page] = err
		s.logger.Warn("page image unavailable", zap.Int("page", page), zap.Error(err))
		return nil, err
	}
	s.images[page] = img
	return img, nil
}

// DarkRatio measures the ink fraction of region on page. ok is false when
// the page has no usable image or the region is too small to measure.
func (s *PageSet) DarkRatio(page int, region geometry.Rect, cfg RatioConfig) (ratio float64, ok bool) {
	img, err := s.Image(page)
	if err != nil {
		return 0, false
	}
	return DarkRatio(img, region, cfg)
}

// DarkRatio crops region from img (clamped to its bounds), converts it to
// grayscale, trims cfg.Inset from every side and returns the fraction of
// pixels darker than cfg.DarkThreshold.
func DarkRatio(img image.Image, region geometry.Rect, cfg RatioConfig) (float64, bool) {
	if img == nil {
		return 0, false
	}
	b := img.Bounds()
	x0 := max(0, int(region.X0))
	y0 := max(0, int(region.Y0))
	x1 := min(b.Dx(), int(region.X1))
	y1 := min(b.Dy(), int(region.Y1))
	if x1 <= x0 || y1 <= y0 {
		return 0, false
	}

	cw, ch := x1-x0, y1-y0
	if cw < minCrop || ch < minCrop {
		return 0, false
	}
	insetX := max(1, int(float64(cw)*cfg.Inset))
	insetY := max(1, int(float64(ch)*cfg.Inset))
	iw, ih := cw-2*insetX, ch-2*insetY
	if iw < minInner || ih < minInner {
		return 0, false
	}

	crop := imaging.Crop(img, image.Rect(b.Min.X+x0, b.Min.Y+y0, b.Min.X+x1, b.Min.Y+y1))
	gray := imaging.Grayscale(crop)

	dark := 0
	for y := insetY; y < insetY+ih; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := insetX; x < insetX+iw; x++ {
			if row[x*4] < cfg.DarkThreshold {
				dark++
			}
		}
	}
	return float64(dark) / float64(iw*ih), true
}
