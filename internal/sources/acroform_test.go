package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-form-atlas/internal/acroform"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/pdftest"
)

func TestFromAcroForm(t *testing.T) {
	fields := []acroform.Field{
		{Name: "NamedInsured", Kind: acroform.KindText, Value: " ACME Widgets LLC "},
		{Name: "Corporation", Kind: acroform.KindCheckbox, Value: "Yes"},
		{Name: "Partnership", Kind: acroform.KindCheckbox, Value: "Off"},
		{Name: "Entity", Kind: acroform.KindRadio, Value: "LLC"},
		{Name: "State", Kind: acroform.KindChoice, Value: "NY"},
		{Name: "Remarks", Kind: acroform.KindText},
		{Name: "Submit", Kind: acroform.KindButton, Value: "x"},
	}

	set := FromAcroForm(fields, nil)

	assert.Equal(t, fusion.SourceAcroForm, set.Source)
	assert.Equal(t, map[string]string{
		"NamedInsured": "ACME Widgets LLC",
		"Corporation":  "1",
		"Entity":       "LLC",
		"State":        "NY",
	}, set.Fields)

	a := &atlas.Atlas{Fields: []atlas.Field{{Name: "State"}}}
	assert.Equal(t, map[string]string{"State": "NY"}, FromAcroForm(fields, a).Fields)
}

func TestReadAcroForm(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "filled.pdf", pdftest.Page{
		Widgets: []pdftest.Widget{
			{Name: "NamedInsured", FT: "Tx", Value: "(ACME Widgets LLC)", Rect: [4]float64{100, 700, 300, 720}},
			{Name: "Corporation", FT: "Btn", Value: "/Yes", Rect: [4]float64{50, 650, 60, 660}},
			{Name: "Partnership", FT: "Btn", Value: "/Off", Rect: [4]float64{70, 650, 80, 660}},
		},
	})

	set, err := ReadAcroForm(acroform.NewReader(nil), path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NamedInsured": "ACME Widgets LLC", "Corporation": "1"}, set.Fields)

	_, err = ReadAcroForm(acroform.NewReader(nil), "/nonexistent/form.pdf", nil)
	assert.Error(t, err)
}
