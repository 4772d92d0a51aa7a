// Package atlas describes where fields and static anchor labels sit on a
// known document layout. Coordinates are pixels at the atlas DPI with a
// top-left origin. An Atlas is read-only once loaded; per-document
// alignment never mutates it.
package atlas

import (
	"errors"
	"fmt"
	"sort"

	"github.com/a3tai/mcp-form-atlas/internal/geometry"
)

// DefaultDPI is the reference resolution atlases are built at.
const DefaultDPI = 300.0

// Kind is the value kind of a field region.
type Kind string

const (
	KindText     Kind = "text"
	KindCheckbox Kind = "checkbox"
	KindRadio    Kind = "radio"
)

// Field is one expected field region.
type Field struct {
	Name string  `json:"name"`
	Page int     `json:"page"`
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
	Kind Kind    `json:"kind"`
	// Labels are captions printed next to the field, used for label-value
	// pairing.
	Labels []string `json:"labels,omitempty"`
}

// Rect returns the region as a rectangle.
func (f Field) Rect() geometry.Rect {
	return geometry.Rect{X0: f.XMin, Y0: f.YMin, X1: f.XMax, Y1: f.YMax}
}

// Checkable reports whether the field holds a checkbox or radio state.
func (f Field) Checkable() bool {
	return f.Kind == KindCheckbox || f.Kind == KindRadio
}

// Anchor is static text at a known position on every instance.
type Anchor struct {
	Text string  `json:"text"`
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Position returns the expected anchor position.
func (a Anchor) Position() geometry.Point {
	return geometry.Point{X: a.X, Y: a.Y}
}

// Rule declares a value-validity constraint for fields whose name contains
// Field.
type Rule struct {
	Field        string   `json:"field"`
	RejectValues []string `json:"reject_values,omitempty"`
	DigitsOnly   bool     `json:"digits_only,omitempty"`
}

// Atlas is the field map of one document type.
type Atlas struct {
	DocumentType string   `json:"document_type"`
	Name         string   `json:"name,omitempty"`
	DPI          float64  `json:"dpi,omitempty"`
	Fields       []Field  `json:"fields"`
	Anchors      []Anchor `json:"anchors,omitempty"`
	Rules        []Rule   `json:"rules,omitempty"`
}

// Empty reports whether the atlas has nothing to match against.
func (a *Atlas) Empty() bool {
	return a == nil || (len(a.Fields) == 0 && len(a.Anchors) == 0)
}

// Resolution returns the atlas DPI, defaulting to DefaultDPI.
func (a *Atlas) Resolution() float64 {
	if a == nil || a.DPI <= 0 {
		return DefaultDPI
	}
	return a.DPI
}

// Field looks up a field by name.
func (a *Atlas) Field(name string) (Field, bool) {
	if a == nil {
		return Field{}, false
	}
	for _, f := range a.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldsOnPage returns the fields on page in declaration order.
func (a *Atlas) FieldsOnPage(page int) []Field {
	if a == nil {
		return nil
	}
	var out []Field
	for _, f := range a.Fields {
		if f.Page == page {
			out = append(out, f)
		}
	}
	return out
}

// AnchorsByPage groups anchors by page.
func (a *Atlas) AnchorsByPage() map[int][]Anchor {
	out := make(map[int][]Anchor)
	if a == nil {
		return out
	}
	for _, an := range a.Anchors {
		out[an.Page] = append(out[an.Page], an)
	}
	return out
}

// PageCount returns one past the highest page any field or anchor uses.
func (a *Atlas) PageCount() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, f := range a.Fields {
		n = max(n, f.Page+1)
	}
	for _, an := range a.Anchors {
		n = max(n, an.Page+1)
	}
	return n
}

// Summary counts fields per kind and page for display.
type Summary struct {
	DocumentType string       `json:"document_type"`
	Name         string       `json:"name,omitempty"`
	DPI          float64      `json:"dpi"`
	Pages        int          `json:"pages"`
	Fields       int          `json:"fields"`
	Anchors      int          `json:"anchors"`
	Rules        int          `json:"rules"`
	ByKind       map[Kind]int `json:"by_kind"`
	ByPage       map[int]int  `json:"by_page"`
	AnchorTexts  []string     `json:"anchor_texts,omitempty"`
}

// Summarize builds a Summary.
func (a *Atlas) Summarize() Summary {
	s := Summary{
		DocumentType: a.DocumentType,
		Name:         a.Name,
		DPI:          a.Resolution(),
		Pages:        a.PageCount(),
		Fields:       len(a.Fields),
		Anchors:      len(a.Anchors),
		Rules:        len(a.Rules),
		ByKind:       make(map[Kind]int),
		ByPage:       make(map[int]int),
	}
	for _, f := range a.Fields {
		s.ByKind[f.Kind]++
		s.ByPage[f.Page]++
	}
	seen := make(map[string]bool)
	for _, an := range a.Anchors {
		if !seen[an.Text] {
			seen[an.Text] = true
			s.AnchorTexts = append(s.AnchorTexts, an.Text)
		}
	}
	sort.Strings(s.AnchorTexts)
	return s
}

// Validate checks structural consistency beyond what the file schema
// enforces.
func (a *Atlas) Validate() error {
	if a == nil {
		return errors.New("atlas is nil")
	}
	var errs []error
	if a.DocumentType == "" {
		errs = append(errs, errors.New("document_type is required"))
	}
	seen := make(map[string]bool, len(a.Fields))
	for _, f := range a.Fields {
		switch {
		case f.Name == "":
			errs = append(errs, errors.New("field with empty name"))
			continue
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Name))
		case f.Page < 0:
			errs = append(errs, fmt.Errorf("field %q: negative page", f.Name))
		case f.Rect().Empty():
			errs = append(errs, fmt.Errorf("field %q: degenerate region", f.Name))
		}
		switch f.Kind {
		case KindText, KindCheckbox, KindRadio:
		default:
			errs = append(errs, fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind))
		}
		seen[f.Name] = true
	}
	for i, an := range a.Anchors {
		if an.Text == "" {
			errs = append(errs, fmt.Errorf("anchor %d: empty text", i))
		}
		if an.Page < 0 {
			errs = append(errs, fmt.Errorf("anchor %q: negative page", an.Text))
		}
	}
	return errors.Join(errs...)
}
