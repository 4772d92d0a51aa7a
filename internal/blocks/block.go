// Package blocks models observed text blocks, the units an upstream
// recognizer reports per page, and reads them from the formats the rest of
// the pipeline produces: plain JSON block files, hOCR, PDF text layers and
// Document AI responses.
package blocks

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// Implicit size of a block given only as a point: 8 px per character wide,
// 20 px tall.
const (
	pointCharWidth = 8.0
	pointHeight    = 20.0
)

// Block is one recognized unit of text. A block is either a rectangle or a
// single point; point blocks carry an implicit box anchored at the point
// for width-based heuristics while their center stays the point itself.
type Block struct {
	Text       string
	Page       int
	Box        geometry.Rect
	IsPoint    bool
	Confidence *float64
}

// NewPoint builds a point block with the implicit box.
func NewPoint(text string, page int, x, y float64) Block {
	w := float64(utf8.RuneCountInString(text)) * pointCharWidth
	return Block{
		Text:    text,
		Page:    page,
		Box:     geometry.Rect{X0: x, Y0: y, X1: x + w, Y1: y + pointHeight},
		IsPoint: true,
	}
}

// NewRect builds a rectangle block.
func NewRect(text string, page int, x0, y0, x1, y1 float64) Block {
	return Block{Text: text, Page: page, Box: geometry.Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}}
}

// WithConfidence returns a copy of b carrying recognizer confidence c.
func (b Block) WithConfidence(c float64) Block {
	b.Confidence = &c
	return b
}

// Center is the point used for containment and anchor distance.
func (b Block) Center() geometry.Point {
	if b.IsPoint {
		return geometry.Point{X: b.Box.X0, Y: b.Box.Y0}
	}
	return b.Box.Center()
}

// ConfidenceOr returns the recognizer confidence or def when unknown.
func (b Block) ConfidenceOr(def float64) float64 {
	if b.Confidence == nil {
		return def
	}
	return *b.Confidence
}

type wireBlock struct {
	Text       string   `json:"text"`
	Page       *int     `json:"page,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	W          *float64 `json:"w,omitempty"`
	H          *float64 `json:"h,omitempty"`
	X0         *float64 `json:"x0,omitempty"`
	Y0         *float64 `json:"y0,omitempty"`
	X1         *float64 `json:"x1,omitempty"`
	Y1         *float64 `json:"y1,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// UnmarshalJSON accepts {text,x,y[,w,h]} and {text,x0,y0,x1,y1}.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	page := 0
	if w.Page != nil {
		page = *w.Page
	}

	switch {
	case w.X0 != nil && w.X1 != nil:
		*b = NewRect(w.Text, page, *w.X0, deref(w.Y0), *w.X1, deref(w.Y1))
	case w.X != nil || w.Y != nil:
		*b = NewPoint(w.Text, page, deref(w.X), deref(w.Y))
		if w.W != nil {
			b.Box.X1 = b.Box.X0 + *w.W
		}
		if w.H != nil {
			b.Box.Y1 = b.Box.Y0 + *w.H
		}
	default:
		return fmt.Errorf("block %q has no position", w.Text)
	}
	b.Confidence = w.Confidence
	return nil
}

// MarshalJSON writes the form the block was built from.
func (b Block) MarshalJSON() ([]byte, error) {
	page := b.Page
	w := wireBlock{Text: b.Text, Page: &page, Confidence: b.Confidence}
	if b.IsPoint {
		x, y := b.Box.X0, b.Box.Y0
		width, height := b.Box.Width(), b.Box.Height()
		w.X, w.Y, w.W, w.H = &x, &y, &width, &height
	} else {
		w.X0, w.Y0, w.X1, w.Y1 = &b.Box.X0, &b.Box.Y0, &b.Box.X1, &b.Box.Y1
	}
	return json.Marshal(w)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Pages holds blocks indexed by 0-based page number.
type Pages [][]Block

// Page returns the blocks of page i, or nil when out of range.
func (p Pages) Page(i int) []Block {
	if i < 0 || i >= len(p) {
		return nil
	}
	return p[i]
}

// Count returns the total number of blocks on all pages.
func (p Pages) Count() int {
	n := 0
	for _, page := range p {
		n += len(page)
	}
	return n
}

// Group distributes blocks by their Page field. Blocks with a negative page
// are dropped.
func Group(all []Block) Pages {
	var pages Pages
	for _, b := range all {
		if b.Page < 0 {
			continue
		}
		for len(pages) <= b.Page {
			pages = append(pages, nil)
		}
		pages[b.Page] = append(pages[b.Page], b)
	}
	return pages
}

// Scale multiplies every coordinate by factor, e.g. to bring a 200 DPI scan
// onto a 300 DPI atlas.
func (p Pages) Scale(factor float64) Pages {
	if factor == 1 || factor <= 0 {
		return p
	}
	out := make(Pages, len(p))
	for i, page := range p {
		out[i] = make([]Block, len(page))
		for j, b := range page {
			b.Box = geometry.Rect{
				X0: b.Box.X0 * factor, Y0: b.Box.Y0 * factor,
				X1: b.Box.X1 * factor, Y1: b.Box.Y1 * factor,
			}
			out[i][j] = b
		}
	}
	return out
}
