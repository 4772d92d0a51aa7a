// Package geometry holds the rectangle and point arithmetic shared by the
// atlas, calibration and matching packages. All coordinates are pixels at the
// atlas reference DPI with the origin at the top-left corner of the page.
package geometry

import "sort"

// Point is a position on a page.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle. X0/Y0 is the top-left corner.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns the horizontal extent, which is negative for inverted rects.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the vertical extent, which is negative for inverted rects.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Area returns the area, or 0 for degenerate rects.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Empty reports whether the rect has zero or negative width or height.
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: (r.X0 + r.X1) / 2, Y: (r.Y0 + r.Y1) / 2}
}

// Translate shifts the rect by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X0: r.X0 + dx, Y0: r.Y0 + dy, X1: r.X1 + dx, Y1: r.Y1 + dy}
}

// Expand grows the rect by margin on every side.
func (r Rect) Expand(margin float64) Rect {
	return Rect{X0: r.X0 - margin, Y0: r.Y0 - margin, X1: r.X1 + margin, Y1: r.Y1 + margin}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X0 && p.X <= r.X1 && p.Y >= r.Y0 && p.Y <= r.Y1
}

// Intersect returns the overlapping region of a and b. The result is Empty
// when they do not overlap.
func Intersect(a, b Rect) Rect {
	return Rect{
		X0: max(a.X0, b.X0),
		Y0: max(a.Y0, b.Y0),
		X1: min(a.X1, b.X1),
		Y1: min(a.Y1, b.Y1),
	}
}

// IoU computes intersection-over-union of two rects.
func IoU(a, b Rect) float64 {
	inter := Intersect(a, b)
	if inter.Empty() {
		return 0
	}
	i := inter.Area()
	union := a.Area() + b.Area() - i
	if union <= 0 {
		return 0
	}
	return i / union
}

// Manhattan returns the L1 distance between two points.
func Manhattan(a, b Point) float64 {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Median returns the median of xs without modifying it. Even-length input
// yields the mean of the two middle values; empty input yields 0.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
