package extract

import (
	"github.com/a3tai/mcp-form-atlas/internal/align"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/match"
	"github.com/a3tai/mcp-form-atlas/internal/sources"
)

// Request Types

// ExtractRequest represents a request to extract a document described by a
// manifest file
type ExtractRequest struct {
	Path string `json:"path"`
}

// AlignRequest represents a request to align a document against its atlas
type AlignRequest struct {
	Path string `json:"path"`
}

// FuseRequest represents a request to fuse candidate sets without geometry
type FuseRequest struct {
	Candidates []sources.CandidateSet `json:"candidates"`
	// LowConfidence overrides the review threshold when positive.
	LowConfidence float64 `json:"low_confidence,omitempty"`
}

// AtlasInfoRequest represents a request to describe one atlas
type AtlasInfoRequest struct {
	DocumentType string `json:"document_type"`
}

// Response Types

// SourceCount records how many values a source contributed
type SourceCount struct {
	Source string `json:"source"`
	Fields int    `json:"fields"`
}

// Result is the outcome of extracting one document
type Result struct {
	RunID         string                        `json:"run_id"`
	Document      string                        `json:"document"`
	DocumentType  string                        `json:"document_type"`
	Fields        map[string]string             `json:"fields"`
	Metadata      map[string]fusion.FieldFusion `json:"metadata"`
	Positional    map[string]match.Meta         `json:"positional,omitempty"`
	Alignment     align.Alignment               `json:"alignment"`
	Sources       []SourceCount                 `json:"sources"`
	Disagreements map[string][]fusion.Candidate `json:"disagreements,omitempty"`
	LowConfidence []fusion.FieldScore           `json:"low_confidence,omitempty"`
	// Warnings lists inputs that could not be used. The document was still
	// extracted from the rest.
	Warnings  []string `json:"warnings,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// AlignResult represents the alignment report for one document
type AlignResult struct {
	Document     string          `json:"document"`
	DocumentType string          `json:"document_type"`
	Pages        int             `json:"pages"`
	Blocks       int             `json:"blocks"`
	Alignment    align.Alignment `json:"alignment"`
}

// FuseResult represents the outcome of a fusion-only request
type FuseResult struct {
	Fields        map[string]string             `json:"fields"`
	Metadata      map[string]fusion.FieldFusion `json:"metadata"`
	Disagreements map[string][]fusion.Candidate `json:"disagreements,omitempty"`
	LowConfidence []fusion.FieldScore           `json:"low_confidence,omitempty"`
}

// AtlasListResult represents the available document types
type AtlasListResult struct {
	Directory string          `json:"directory"`
	Atlases   []atlas.Summary `json:"atlases"`
	// Broken lists atlas files that failed to load, with the reason.
	Broken map[string]string `json:"broken,omitempty"`
}

// AtlasInfoResult represents one atlas summary and its fields
type AtlasInfoResult struct {
	Summary atlas.Summary  `json:"summary"`
	Fields  []atlas.Field  `json:"fields"`
	Anchors []atlas.Anchor `json:"anchors,omitempty"`
	Rules   []atlas.Rule   `json:"rules,omitempty"`
}

// ServerInfoResult represents server information and usage guidance
type ServerInfoResult struct {
	ServerName       string             `json:"server_name"`
	Version          string             `json:"version"`
	AtlasDirectory   string             `json:"atlas_directory"`
	Directories      []string           `json:"directories"`
	MaxFileSize      int64              `json:"max_file_size"`
	AvailableTools   []ToolInfo         `json:"available_tools"`
	Atlases          []string           `json:"atlases"`
	SourceWeights    map[string]float64 `json:"source_weights"`
	UsageGuidance    string             `json:"usage_guidance"`
	SupportedFormats []string           `json:"supported_formats"`
}

// ToolInfo represents information about an available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
	Parameters  string `json:"parameters"`
}
