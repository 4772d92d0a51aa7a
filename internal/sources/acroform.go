package sources

import (
	"strings"

	"github.com/a3tai/mcp-form-atlas/internal/acroform"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
)

// FromAcroForm converts native form values into a candidate set. Checked
// checkboxes report "1", radio groups their exported value and unchecked
// boxes nothing. When a is non-nil only fields it declares are kept.
func FromAcroForm(fields []acroform.Field, a *atlas.Atlas) CandidateSet {
	set := NewCandidateSet(fusion.SourceAcroForm)
	for _, f := range fields {
		if a != nil {
			if _, ok := a.Field(f.Name); !ok {
				continue
			}
		}
		var v string
		switch f.Kind {
		case acroform.KindCheckbox:
			if f.Checked() {
				v = "1"
			}
		case acroform.KindRadio:
			if f.Checked() {
				v = f.Value
			}
		case acroform.KindText, acroform.KindChoice:
			v = strings.TrimSpace(f.Value)
		}
		if v != "" {
			set.Fields[f.Name] = v
		}
	}
	return set
}

// ReadAcroForm reads the form fields of the PDF at path.
func ReadAcroForm(r *acroform.Reader, path string, a *atlas.Atlas) (CandidateSet, error) {
	fields, err := r.ReadFile(path)
	if err != nil {
		return CandidateSet{}, err
	}
	return FromAcroForm(fields, a), nil
}
