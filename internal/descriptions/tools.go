package descriptions

import "sort"

// Tool names exposed by the MCP server.
const (
	ToolExtract    = "form_extract"
	ToolAlign      = "form_align"
	ToolFuse       = "form_fuse"
	ToolAtlasList  = "form_atlas_list"
	ToolAtlasInfo  = "form_atlas_info"
	ToolServerInfo = "form_server_info"
)

// Tool descriptions with practical examples and use cases
const (
	FormExtractDescription = `Extract field values from a scanned or filled form using its field atlas.

**When to use:** You have OCR output (block JSON, hOCR, Document AI JSON or a PDF text layer) for a known form type and need its field values.

**Why it's useful:** Fields are located geometrically from the atlas after correcting for scan shift, checkboxes are read from page image pixels, and every source (AcroForm values, label-value pairs, external candidate files) is fused into one value per field with a confidence.

**Examples:**
• Read a scanned application: "Extract fields from manifests/app-0042.yaml"
• Re-run after adding a vision source: add the candidate file to the manifest's sources list and extract again

**Common workflows:**
1. form_atlas_list → pick document type → write manifest → form_extract
2. form_extract → inspect low_confidence and disagreements → review those fields manually

**Best practices:** Provide page images whenever possible; without them checkboxes can only be read from OCR check marks and empty boxes are never reported as "Off".`

	FormAlignDescription = `Compute how a scanned document is shifted relative to its atlas.

**When to use:** Diagnosing poor extraction results or checking scan quality before a batch run.

**Why it's useful:** Reports per-page offsets, the anchors that were found and an overall alignment quality between the floor (no anchors) and 1.0 (all anchors).

**Examples:**
• "Check alignment of manifests/app-0042.yaml"

**Best practices:** A quality at the floor usually means the anchors are missing from the OCR output or the wrong atlas was chosen.`

	FormFuseDescription = `Fuse candidate values from several extraction sources without any geometry.

**When to use:** You already have per-source field values (for example from an LLM or vision model) and want them merged with source weights and agreement bonuses.

**Why it's useful:** Values that agree after normalization reinforce each other; otherwise the most trusted source wins.

**Examples:**
• candidates: [{"source": "vision", "fields": {"Name": "ACME"}}, {"source": "text_llm", "fields": {"Name": "Acme"}}]

**Best practices:** Set confidence per candidate set when a source reports its own certainty.`

	FormAtlasListDescription = `List the document types that have a field atlas.

**When to use:** Before writing a manifest, to find the document_type to reference.`

	FormAtlasInfoDescription = `Describe one field atlas: field counts by kind and page, anchors and rules.

**When to use:** Checking that an atlas covers the pages and fields you expect before extracting.`

	FormServerInfoDescription = `Get server configuration, available tools and usage guidance.

**When to use:** At the start of a session to learn the document and atlas directories and the source weights in effect.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	ToolExtract:    FormExtractDescription,
	ToolAlign:      FormAlignDescription,
	ToolFuse:       FormFuseDescription,
	ToolAtlasList:  FormAtlasListDescription,
	ToolAtlasInfo:  FormAtlasInfoDescription,
	ToolServerInfo: FormServerInfoDescription,
}

// ToolUsage gives a one-line usage hint and parameter summary per tool.
var ToolUsage = map[string][2]string{
	ToolExtract:    {"Extract fused field values from a document manifest", "path (required): manifest file"},
	ToolAlign:      {"Report page offsets and alignment quality", "path (required): manifest file"},
	ToolFuse:       {"Fuse inline candidate sets", "candidates (required): JSON candidate set or array"},
	ToolAtlasList:  {"List available document types", "none"},
	ToolAtlasInfo:  {"Summarize an atlas", "document_type (required)"},
	ToolServerInfo: {"Show server configuration and guidance", "none"},
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns all tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
