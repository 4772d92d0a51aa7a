package blocks

import (
	"fmt"
	"math"
	"os"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/protobuf/encoding/protojson"
)

// DocAIOptions controls Document AI conversion.
type DocAIOptions struct {
	Granularity Granularity
	// Scale converts page-dimension pixels to atlas pixels.
	Scale float64
}

// LoadDocumentAI reads a Document AI Document saved as protobuf JSON.
func LoadDocumentAI(path string) (*documentaipb.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read Document AI output: %w", err)
	}
	doc := &documentaipb.Document{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode Document AI output %s: %w", path, err)
	}
	return doc, nil
}

// FromDocumentAI converts page tokens (or lines) into blocks. Positions come
// from normalized vertices times the page dimension, or absolute vertices
// when no normalized ones are present.
func FromDocumentAI(doc *documentaipb.Document, opts DocAIOptions) Pages {
	if doc == nil {
		return nil
	}
	pages := make(Pages, len(doc.GetPages()))
	for i, page := range doc.GetPages() {
		var layouts []*documentaipb.Document_Page_Layout
		if opts.Granularity == Lines {
			for _, l := range page.GetLines() {
				layouts = append(layouts, l.GetLayout())
			}
		} else {
			for _, tok := range page.GetTokens() {
				layouts = append(layouts, tok.GetLayout())
			}
		}

		for _, layout := range layouts {
			text := strings.TrimSpace(LayoutText(layout, doc.GetText()))
			if text == "" {
				continue
			}
			x0, y0, x1, y1, ok := LayoutBox(layout, page.GetDimension())
			if !ok {
				continue
			}
			b := NewRect(text, i, x0, y0, x1, y1)
			if c := layout.GetConfidence(); c > 0 {
				b = b.WithConfidence(float64(c))
			}
			pages[i] = append(pages[i], b)
		}
	}
	if opts.Scale > 0 {
		pages = pages.Scale(opts.Scale)
	}
	return pages
}

// LayoutText extracts the text a layout anchors into the document text.
// Segment indexes count runes.
func LayoutText(layout *documentaipb.Document_Page_Layout, fullText string) string {
	if layout == nil || layout.GetTextAnchor() == nil {
		return ""
	}
	runes := []rune(fullText)
	var sb strings.Builder
	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start := int(seg.GetStartIndex())
		end := int(seg.GetEndIndex())
		start = max(0, min(start, len(runes)))
		end = max(start, min(end, len(runes)))
		sb.WriteString(string(runes[start:end]))
	}
	return sb.String()
}

// LayoutBox returns the pixel bounding box of a layout.
func LayoutBox(layout *documentaipb.Document_Page_Layout, dim *documentaipb.Document_Page_Dimension) (x0, y0, x1, y1 float64, ok bool) {
	poly := layout.GetBoundingPoly()
	if poly == nil {
		return 0, 0, 0, 0, false
	}

	x0, y0 = math.Inf(1), math.Inf(1)
	x1, y1 = math.Inf(-1), math.Inf(-1)
	extend := func(x, y float64) {
		x0, y0 = min(x0, x), min(y0, y)
		x1, y1 = max(x1, x), max(y1, y)
	}

	if nv := poly.GetNormalizedVertices(); len(nv) > 0 && dim != nil && dim.GetWidth() > 0 {
		w, h := float64(dim.GetWidth()), float64(dim.GetHeight())
		for _, v := range nv {
			extend(float64(v.GetX())*w, float64(v.GetY())*h)
		}
	} else if vs := poly.GetVertices(); len(vs) > 0 {
		for _, v := range vs {
			extend(float64(v.GetX()), float64(v.GetY()))
		}
	} else {
		return 0, 0, 0, 0, false
	}
	return x0, y0, x1, y1, true
}
