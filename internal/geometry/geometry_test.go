package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectBasics(t *testing.T) {
	r := Rect{X0: 10, Y0: 20, X1: 30, Y1: 60}

	assert.Equal(t, 20.0, r.Width())
	assert.Equal(t, 40.0, r.Height())
	assert.Equal(t, 800.0, r.Area())
	assert.Equal(t, Point{X: 20, Y: 40}, r.Center())
	assert.False(t, r.Empty())

	moved := r.Translate(5, -5)
	assert.Equal(t, Rect{X0: 15, Y0: 15, X1: 35, Y1: 55}, moved)
	assert.Equal(t, Rect{X0: 8, Y0: 18, X1: 32, Y1: 62}, r.Expand(2))
}

func TestRectEmpty(t *testing.T) {
	tests := []struct {
		name string
		rect Rect
		want bool
	}{
		{"normal", Rect{0, 0, 10, 10}, false},
		{"zero width", Rect{5, 0, 5, 10}, true},
		{"inverted", Rect{10, 10, 0, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rect.Empty())
			if tt.want {
				assert.Zero(t, tt.rect.Area())
			}
		})
	}
}

func TestContainsIncludesEdges(t *testing.T) {
	r := Rect{0, 0, 10, 10}
	assert.True(t, r.Contains(Point{0, 0}))
	assert.True(t, r.Contains(Point{10, 10}))
	assert.True(t, r.Contains(Point{5, 5}))
	assert.False(t, r.Contains(Point{10.01, 5}))
}

func TestIoU(t *testing.T) {
	a := Rect{0, 0, 10, 10}

	assert.Equal(t, 1.0, IoU(a, a))
	assert.Zero(t, IoU(a, Rect{20, 20, 30, 30}))
	assert.Zero(t, IoU(a, Rect{10, 0, 20, 10}), "touching edges do not overlap")
	// 50 overlap / (100 + 100 - 50)
	assert.InDelta(t, 1.0/3.0, IoU(a, Rect{5, 0, 15, 10}), 1e-9)
}

func TestManhattan(t *testing.T) {
	assert.Equal(t, 40.0, Manhattan(Point{100, 50}, Point{130, 60}))
	assert.Equal(t, 40.0, Manhattan(Point{130, 60}, Point{100, 50}))
}

func TestMedian(t *testing.T) {
	assert.Zero(t, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}
