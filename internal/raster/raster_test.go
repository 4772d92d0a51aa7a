package raster

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// page returns a white 200x200 page with n ink pixels filled row by row
// inside the inner area of the 50x50 box at the origin.
func page(n int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	// Box border, excluded by the inset.
	for i := 0; i < 50; i++ {
		img.SetGray(i, 0, color.Gray{})
		img.SetGray(i, 49, color.Gray{})
		img.SetGray(0, i, color.Gray{})
		img.SetGray(49, i, color.Gray{})
	}
	for k := 0; k < n; k++ {
		img.SetGray(10+k%30, 10+k/30, color.Gray{Y: 20})
	}
	return img
}

var box = geometry.Rect{X0: 0, Y0: 0, X1: 50, Y1: 50}

func TestDarkRatio(t *testing.T) {
	cfg := DefaultRatioConfig()
	tests := []struct {
		name string
		ink  int
		want float64
	}{
		{"empty box", 0, 0},
		{"faint", 27, 0.03},
		{"checked", 270, 0.30},
		{"filled", 900, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, ok := DarkRatio(page(tt.ink), box, cfg)
			require.True(t, ok)
			assert.InDelta(t, tt.want, ratio, 1e-9)
		})
	}
}

func TestDarkRatio_Rejects(t *testing.T) {
	cfg := DefaultRatioConfig()
	img := page(0)
	tests := []struct {
		name   string
		region geometry.Rect
	}{
		{"outside image", geometry.Rect{X0: 300, Y0: 300, X1: 400, Y1: 400}},
		{"inverted", geometry.Rect{X0: 40, Y0: 40, X1: 10, Y1: 10}},
		{"too small", geometry.Rect{X0: 10, Y0: 10, X1: 13, Y1: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DarkRatio(img, tt.region, cfg)
			assert.False(t, ok)
		})
	}

	_, ok := DarkRatio(nil, box, cfg)
	assert.False(t, ok)

	// A 9 px box with a 45% inset leaves a single pixel.
	wide := RatioConfig{DarkThreshold: 140, Inset: 0.45}
	_, ok = DarkRatio(img, geometry.Rect{X0: 10, Y0: 10, X1: 19, Y1: 19}, wide)
	assert.False(t, ok)
}

func TestDarkRatio_ClampsToBounds(t *testing.T) {
	// Region hangs off the top-left corner; the clamped crop is the 50x50 box.
	ratio, ok := DarkRatio(page(270), geometry.Rect{X0: -20, Y0: -20, X1: 50, Y1: 50}, DefaultRatioConfig())
	require.True(t, ok)
	assert.InDelta(t, 0.30, ratio, 1e-9)
}

func TestPageSet(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "page1.png")
	require.NoError(t, imaging.Save(page(270), good))
	broken := filepath.Join(dir, "page2.png")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))

	set := NewPageSet([]string{good, broken, "", filepath.Join(dir, "missing.png")}, nil)

	assert.True(t, set.Has(0))
	ratio, ok := set.DarkRatio(0, box, DefaultRatioConfig())
	require.True(t, ok)
	assert.InDelta(t, 0.30, ratio, 1e-9)

	img1, err := set.Image(0)
	require.NoError(t, err)
	img2, err := set.Image(0)
	require.NoError(t, err)
	assert.Same(t, img1, img2, "decoded once")

	assert.True(t, set.Has(1))
	_, ok = set.DarkRatio(1, box, DefaultRatioConfig())
	assert.False(t, ok)
	assert.False(t, set.Has(1), "failed page is remembered")

	assert.False(t, set.Has(2))
	_, ok = set.DarkRatio(3, box, DefaultRatioConfig())
	assert.False(t, ok)
	assert.False(t, set.Has(9))

	var nilSet *PageSet
	assert.False(t, nilSet.Has(0))
}
