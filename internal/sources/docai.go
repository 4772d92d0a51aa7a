package sources

import (
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
)

// FromDocumentAI matches the key/value pairs a Document AI form parser
// detected against the declared labels of atlas fields on the same page.
// Confidence is the value's detection confidence, or def when absent.
func FromDocumentAI(doc *documentaipb.Document, a *atlas.Atlas, def float64) CandidateSet {
	set := NewCandidateSet(fusion.SourceLabelValue)
	if doc == nil || a == nil {
		return set
	}
	text := doc.GetText()
	for _, f := range a.Fields {
		if len(f.Labels) == 0 || f.Checkable() || f.Page >= len(doc.GetPages()) {
			continue
		}
		for _, ff := range doc.GetPages()[f.Page].GetFormFields() {
			name := blocks.LayoutText(ff.GetFieldName(), text)
			if !matchesAny(name, f.Labels) {
				continue
			}
			value := strings.TrimSpace(blocks.LayoutText(ff.GetFieldValue(), text))
			if value == "" {
				continue
			}
			conf := def
			if c := ff.GetFieldValue().GetConfidence(); c > 0 {
				conf = float64(c)
			}
			set.Fields[f.Name] = value
			set.Confidences[f.Name] = conf
			break
		}
	}
	return set
}
