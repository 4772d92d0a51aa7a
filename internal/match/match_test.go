package match

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/raster"
)

func textField(name string, x0, y0, x1, y1 float64) atlas.Field {
	return atlas.Field{Name: name, XMin: x0, YMin: y0, XMax: x1, YMax: y1, Kind: atlas.KindText}
}

func newMatcher(opts ...Option) *Matcher {
	return NewMatcher(DefaultConfig(), opts...)
}

// footer keeps a page non-empty without touching any field.
var footer = blocks.NewPoint("Form 125", 0, 120, 180)

func TestMatch_Containment(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("Agency", 100, 100, 400, 140)}}
	pages := blocks.Pages{{
		blocks.NewRect("AGENCY:", 0, 105, 105, 170, 125),
		blocks.NewRect("Acme Insurance", 0, 180, 105, 330, 125),
	}}

	res := newMatcher().Match(a, pages, nil)

	assert.Equal(t, map[string]string{"Agency": "Acme Insurance"}, res.Values)
	meta := res.Meta["Agency"]
	assert.Equal(t, MethodContainment, meta.Method)
	assert.Equal(t, 0.9, meta.Confidence)
	assert.Equal(t, 0, meta.Page)
	assert.Nil(t, meta.PixelRatio)
}

func TestMatch_LabelNeverSelected(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("Agency", 100, 100, 400, 140)}}
	pages := blocks.Pages{{blocks.NewRect("AGENCY:", 0, 105, 105, 395, 135)}}

	res := newMatcher().Match(a, pages, nil)

	assert.Empty(t, res.Values)
	assert.Empty(t, res.Meta)
}

func TestMatch_RowMerge(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("MailingAddress", 0, 0, 400, 100)}}
	pages := blocks.Pages{{
		blocks.NewRect("Springfield", 0, 20, 50, 150, 70),
		blocks.NewRect("Main St", 0, 120, 10, 200, 30),
		blocks.NewRect("123", 0, 20, 12, 60, 30),
	}}

	res := newMatcher().Match(a, pages, nil)

	assert.Equal(t, "123 Main St Springfield", res.Values["MailingAddress"])
}

func TestMatch_WideBlocksIgnored(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("Carrier", 100, 100, 200, 140)}}
	pages := blocks.Pages{{
		blocks.NewRect("Section Two Details", 0, -300, 100, 600, 140),
		blocks.NewRect("Acme", 0, 120, 110, 180, 130),
	}}

	res := newMatcher().Match(a, pages, nil)

	assert.Equal(t, "Acme", res.Values["Carrier"])
	assert.Equal(t, MethodContainment, res.Meta["Carrier"].Method)
}

func TestMatch_IoUFallback(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("Carrier", 100, 100, 200, 140)}}
	// Center (205, 120) is outside the field; IoU is 2000/7500.
	pages := blocks.Pages{{blocks.NewRect("Acme", 0, 150, 95, 260, 145)}}

	res := newMatcher().Match(a, pages, nil)

	assert.Equal(t, "Acme", res.Values["Carrier"])
	assert.Equal(t, MethodIoU, res.Meta["Carrier"].Method)
	assert.Equal(t, 0.85, res.Meta["Carrier"].Confidence)
}

func TestMatch_IoUBelowThreshold(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{textField("Carrier", 100, 100, 200, 140)}}
	pages := blocks.Pages{{blocks.NewRect("Acme", 0, 190, 100, 400, 140)}}

	res := newMatcher().Match(a, pages, nil)

	assert.Empty(t, res.Values)
}

func TestMatch_AppliesAlignment(t *testing.T) {
	a := &atlas.Atlas{
		Fields:  []atlas.Field{textField("Agency", 200, 100, 400, 140)},
		Anchors: []atlas.Anchor{{Text: "AGENCY", Page: 0, X: 100, Y: 50}},
	}
	// Offset (30, 10): the value center (420, 145) is only inside the
	// shifted region.
	pages := blocks.Pages{{
		blocks.NewPoint("AGENCY", 0, 130, 60),
		blocks.NewRect("Acme", 0, 410, 135, 430, 155),
	}}

	res := newMatcher().Match(a, pages, nil)

	assert.Equal(t, "Acme", res.Values["Agency"])
	assert.Equal(t, 30.0, res.Alignment.Offset(0).DX)
	assert.Equal(t, 10.0, res.Alignment.Offset(0).DY)
	assert.Equal(t, 1.0, res.Alignment.Quality)
}

func TestMatch_QualityScalesConfidence(t *testing.T) {
	a := &atlas.Atlas{
		Fields: []atlas.Field{textField("Agency", 200, 100, 400, 140)},
		Anchors: []atlas.Anchor{
			{Text: "AGENCY", Page: 0, X: 100, Y: 50},
			{Text: "CARRIER", Page: 0, X: 1000, Y: 50},
		},
	}
	pages := blocks.Pages{{
		blocks.NewPoint("AGENCY", 0, 100, 50),
		blocks.NewRect("Acme", 0, 250, 110, 330, 130),
	}}

	res := newMatcher().Match(a, pages, nil)

	assert.InDelta(t, 0.85, res.Alignment.Quality, 1e-9)
	assert.InDelta(t, 0.85*0.85+0.05, res.Meta["Agency"].Confidence, 0.001)
}

func TestMatch_ValidityRules(t *testing.T) {
	a := &atlas.Atlas{
		Fields: []atlas.Field{
			textField("ProducerIdentifier_A", 0, 0, 100, 40),
			textField("Vehicle_UsePercent", 0, 100, 100, 140),
			textField("Code", 0, 200, 100, 240),
		},
		Rules: []atlas.Rule{{Field: "Code", RejectValues: []string{"000"}}},
	}
	pages := blocks.Pages{{
		blocks.NewRect("75", 0, 10, 10, 40, 30),
		blocks.NewRect("abc", 0, 10, 110, 40, 130),
		blocks.NewRect("000", 0, 10, 210, 40, 230),
	}}

	plain := newMatcher().Match(a, pages, nil)
	assert.Len(t, plain.Values, 2)
	assert.NotContains(t, plain.Values, "Code")

	res := newMatcher(WithRules(ACORDRules()...)).Match(a, pages, nil)
	assert.Empty(t, res.Values)
}

func TestMatch_Degenerate(t *testing.T) {
	m := newMatcher()
	pages := blocks.Pages{{blocks.NewRect("Acme", 0, 0, 0, 50, 20)}}

	assert.Empty(t, m.Match(nil, pages, nil).Values)
	assert.Empty(t, m.Match(&atlas.Atlas{}, pages, nil).Values)
	assert.Empty(t, m.Match(&atlas.Atlas{Fields: []atlas.Field{textField("A", 0, 0, 50, 20)}}, nil, nil).Values)

	a := &atlas.Atlas{Fields: []atlas.Field{
		textField("Flat", 10, 10, 10, 40),
		textField("Inverted", 50, 50, 0, 0),
		{Name: "OtherPage", Page: 3, XMin: 0, YMin: 0, XMax: 50, YMax: 20},
		textField("Good", 0, 0, 50, 20),
	}}
	res := m.Match(a, pages, nil)
	assert.Equal(t, map[string]string{"Good": "Acme"}, res.Values)
}

func TestMatch_MalformedInputs(t *testing.T) {
	acme := blocks.NewRect("Acme Insurance", 0, 180, 105, 330, 125)
	agency := textField("Agency", 100, 100, 400, 140)

	tests := []struct {
		name  string
		atlas *atlas.Atlas
		pages blocks.Pages
		want  map[string]string
	}{
		{
			name: "negative anchor page",
			atlas: &atlas.Atlas{
				Fields:  []atlas.Field{agency},
				Anchors: []atlas.Anchor{{Text: "AGENCY", Page: -1, X: 100, Y: 50}},
			},
			pages: blocks.Pages{{acme}},
			want:  map[string]string{"Agency": "Acme Insurance"},
		},
		{
			name: "anchor page beyond observed pages",
			atlas: &atlas.Atlas{
				Fields:  []atlas.Field{agency},
				Anchors: []atlas.Anchor{{Text: "REMARKS", Page: 12, X: 100, Y: 50}},
			},
			pages: blocks.Pages{{acme}},
			want:  map[string]string{"Agency": "Acme Insurance"},
		},
		{
			name: "negative field page",
			atlas: &atlas.Atlas{Fields: []atlas.Field{
				{Name: "Lost", Page: -1, XMin: 100, YMin: 100, XMax: 400, YMax: 140, Kind: atlas.KindText},
				agency,
			}},
			pages: blocks.Pages{{acme}},
			want:  map[string]string{"Agency": "Acme Insurance"},
		},
		{
			name: "negative checkbox page without images",
			atlas: &atlas.Atlas{Fields: []atlas.Field{
				{Name: "Box", Page: -2, XMin: 10, YMin: 10, XMax: 30, YMax: 30, Kind: atlas.KindCheckbox},
			}},
			pages: blocks.Pages{{blocks.NewRect("X", 0, 15, 15, 25, 25)}},
			want:  map[string]string{},
		},
		{
			name:  "empty anchor text",
			atlas: &atlas.Atlas{Fields: []atlas.Field{agency}, Anchors: []atlas.Anchor{{Text: "  "}}},
			pages: blocks.Pages{{acme}},
			want:  map[string]string{"Agency": "Acme Insurance"},
		},
		{
			name:  "blank blocks only",
			atlas: &atlas.Atlas{Fields: []atlas.Field{agency}},
			pages: blocks.Pages{nil, {blocks.NewRect("", 0, 150, 110, 300, 130)}},
			want:  map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = newMatcher().Match(tt.atlas, tt.pages, nil) })
			assert.Equal(t, tt.want, res.Values)
		})
	}
}

func TestMatch_SkipsPagesWithoutBlocks(t *testing.T) {
	a := &atlas.Atlas{Fields: []atlas.Field{
		{Name: "Second", Page: 1, XMin: 0, YMin: 0, XMax: 100, YMax: 40},
	}}
	pages := blocks.Pages{{footer}, {}}

	assert.Empty(t, newMatcher().Match(a, pages, nil).Values)
}

func TestMatch_Deterministic(t *testing.T) {
	a := &atlas.Atlas{
		Fields: []atlas.Field{
			textField("Agency", 200, 100, 400, 140),
			textField("Carrier", 200, 200, 400, 240),
			{Name: "Box", XMin: 10, YMin: 300, XMax: 30, YMax: 320, Kind: atlas.KindCheckbox},
		},
		Anchors: []atlas.Anchor{{Text: "AGENCY", Page: 0, X: 100, Y: 50}},
	}
	pages := blocks.Pages{{
		blocks.NewPoint("AGENCY", 0, 104, 52),
		blocks.NewRect("Acme", 0, 250, 110, 330, 130),
		blocks.NewRect("Zenith", 0, 250, 210, 330, 230),
		blocks.NewRect("X", 0, 15, 305, 25, 315),
	}}
	m := newMatcher()

	assert.Equal(t, m.Match(a, pages, nil), m.Match(a, pages, nil))
}

// writeCheckboxPage saves a white page with a bordered 50x50 box at (50, 50)
// holding ink dark pixels in its inner 30x30 area.
func writeCheckboxPage(t *testing.T, ink int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for i := 50; i < 100; i++ {
		img.SetGray(i, 50, color.Gray{})
		img.SetGray(i, 99, color.Gray{})
		img.SetGray(50, i, color.Gray{})
		img.SetGray(99, i, color.Gray{})
	}
	for k := 0; k < ink; k++ {
		img.SetGray(60+k%30, 60+k/30, color.Gray{Y: 10})
	}
	path := filepath.Join(t.TempDir(), "page-0.png")
	require.NoError(t, imaging.Save(img, path))
	return path
}

func checkboxAtlas() *atlas.Atlas {
	return &atlas.Atlas{Fields: []atlas.Field{
		{Name: "Box", XMin: 50, YMin: 50, XMax: 100, YMax: 100, Kind: atlas.KindCheckbox},
	}}
}

func TestMatch_CheckboxPixel(t *testing.T) {
	tests := []struct {
		name    string
		ink     int
		checked bool
		ratio   float64
	}{
		{"checked", 270, true, 0.30},
		{"faint", 27, false, 0.03},
		{"empty", 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images := raster.NewPageSet([]string{writeCheckboxPage(t, tt.ink)}, zap.NewNop())
			res := newMatcher().Match(checkboxAtlas(), blocks.Pages{{footer}}, images)

			require.Contains(t, res.Ratios, "Box")
			assert.InDelta(t, tt.ratio, res.Ratios["Box"], 1e-9)
			if !tt.checked {
				assert.NotContains(t, res.Values, "Box")
				return
			}
			assert.Equal(t, CheckedValue, res.Values["Box"])
			meta := res.Meta["Box"]
			assert.Equal(t, MethodCheckboxPixel, meta.Method)
			assert.Equal(t, 0.85, meta.Confidence)
			require.NotNil(t, meta.PixelRatio)
			assert.InDelta(t, tt.ratio, *meta.PixelRatio, 1e-9)
		})
	}
}

func TestMatch_CheckboxTextMarker(t *testing.T) {
	pages := blocks.Pages{{blocks.NewRect("X", 0, 47, 40, 57, 56)}}

	res := newMatcher().Match(checkboxAtlas(), pages, nil)

	assert.Equal(t, CheckedValue, res.Values["Box"])
	assert.Equal(t, MethodCheckboxText, res.Meta["Box"].Method)
	assert.Empty(t, res.Ratios)

	far := blocks.Pages{{blocks.NewRect("X", 0, 0, 0, 10, 10)}}
	assert.Empty(t, newMatcher().Match(checkboxAtlas(), far, nil).Values)

	noise := blocks.Pages{{blocks.NewRect("Q", 0, 70, 70, 80, 80)}}
	assert.Empty(t, newMatcher().Match(checkboxAtlas(), noise, nil).Values)
}

func TestMatch_CheckboxTextFallbackKeepsRatio(t *testing.T) {
	images := raster.NewPageSet([]string{writeCheckboxPage(t, 27)}, zap.NewNop())
	pages := blocks.Pages{{blocks.NewRect("x", 0, 70, 70, 80, 80)}}

	res := newMatcher().Match(checkboxAtlas(), pages, images)

	assert.Equal(t, CheckedValue, res.Values["Box"])
	assert.Equal(t, MethodCheckboxText, res.Meta["Box"].Method)
	require.NotNil(t, res.Meta["Box"].PixelRatio)
	assert.InDelta(t, 0.03, *res.Meta["Box"].PixelRatio, 1e-9)
	assert.Empty(t, ConfidentlyEmpty(res, 0.05))
}

func TestMatch_BrokenImageFallsBack(t *testing.T) {
	images := raster.NewPageSet([]string{filepath.Join(t.TempDir(), "missing.png")}, zap.NewNop())
	pages := blocks.Pages{{blocks.NewRect("X", 0, 70, 70, 80, 80)}}

	res := newMatcher().Match(checkboxAtlas(), pages, images)

	assert.Equal(t, MethodCheckboxText, res.Meta["Box"].Method)
	assert.Empty(t, res.Ratios)
}

func TestConfidentlyEmpty(t *testing.T) {
	res := Result{
		Values: map[string]string{"Checked": "1"},
		Ratios: map[string]float64{"Checked": 0.01, "Blank": 0.02, "Smudged": 0.12},
	}

	assert.Equal(t, map[string]string{"Blank": "Off"}, ConfidentlyEmpty(res, 0.05))
	assert.Empty(t, ConfidentlyEmpty(Result{}, 0.05))
}

type alwaysChecked struct{}

func (alwaysChecked) CanHandle(CheckboxInput) bool { return true }
func (alwaysChecked) Detect(CheckboxInput) Evidence {
	return Evidence{Checked: true, Method: "custom"}
}

func TestMatch_CustomStrategies(t *testing.T) {
	res := newMatcher(WithCheckboxStrategies(alwaysChecked{})).Match(checkboxAtlas(), blocks.Pages{{footer}}, nil)

	assert.Equal(t, Method("custom"), res.Meta["Box"].Method)
}
