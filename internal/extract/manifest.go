package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/sources"
)

// ErrNoInput is returned for a manifest that names no observed data and no
// candidate source.
var ErrNoInput = errors.New("manifest has no input")

// Manifest describes one document to extract: which atlas applies and
// where its observations live. Relative paths are taken from the manifest's
// directory.
type Manifest struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	DocumentType string `json:"document_type,omitempty" yaml:"document_type,omitempty"`
	AtlasPath    string `json:"atlas_path,omitempty" yaml:"atlas_path,omitempty"`

	// Observed blocks. When several are given the first of blocks, hocr,
	// docai and pdf is used for geometry.
	Blocks string `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	HOCR   string `json:"hocr,omitempty" yaml:"hocr,omitempty"`
	DocAI  string `json:"docai,omitempty" yaml:"docai,omitempty"`
	PDF    string `json:"pdf,omitempty" yaml:"pdf,omitempty"`
	// Scale converts observed block pixels to atlas pixels. PDF text layers
	// are always read at the atlas DPI.
	Scale       float64            `json:"scale,omitempty" yaml:"scale,omitempty"`
	Granularity blocks.Granularity `json:"granularity,omitempty" yaml:"granularity,omitempty"`

	// Images holds one page image path per page; empty entries mark pages
	// without an image.
	Images      []string `json:"images,omitempty" yaml:"images,omitempty"`
	AcroFormPDF string   `json:"acroform_pdf,omitempty" yaml:"acroform_pdf,omitempty"`
	// Sources lists candidate set files produced by other extractors.
	Sources    []string               `json:"sources,omitempty" yaml:"sources,omitempty"`
	Candidates []sources.CandidateSet `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// LoadManifest reads a JSON or YAML manifest and resolves its relative
// paths against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := DecodeManifest(data, strings.ToLower(filepath.Ext(path)) != ".json")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	m.Resolve(filepath.Dir(path))
	return m, nil
}

// DecodeManifest parses manifest data and checks it.
func DecodeManifest(data []byte, isYAML bool) (*Manifest, error) {
	m := &Manifest{}
	if isYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the manifest names an atlas and at least one input.
func (m *Manifest) Validate() error {
	if m.DocumentType == "" && m.AtlasPath == "" {
		return errors.New("manifest needs document_type or atlas_path")
	}
	if m.Scale < 0 {
		return fmt.Errorf("scale must not be negative, got %g", m.Scale)
	}
	switch m.Granularity {
	case "", blocks.Words, blocks.Lines:
	default:
		return fmt.Errorf("unknown granularity %q", m.Granularity)
	}
	if !m.HasObservations() && m.AcroFormPDF == "" && len(m.Sources) == 0 && len(m.Candidates) == 0 {
		return ErrNoInput
	}
	return nil
}

// HasObservations reports whether the manifest names an observed block
// input.
func (m *Manifest) HasObservations() bool {
	return m.Blocks != "" || m.HOCR != "" || m.DocAI != "" || m.PDF != ""
}

// Resolve makes every relative path absolute under dir.
func (m *Manifest) Resolve(dir string) {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	m.AtlasPath = join(m.AtlasPath)
	m.Blocks = join(m.Blocks)
	m.HOCR = join(m.HOCR)
	m.DocAI = join(m.DocAI)
	m.PDF = join(m.PDF)
	m.AcroFormPDF = join(m.AcroFormPDF)
	for i, p := range m.Images {
		m.Images[i] = join(p)
	}
	for i, p := range m.Sources {
		m.Sources[i] = join(p)
	}
}

// Name identifies the document in logs and results.
func (m *Manifest) Name() string {
	if m.ID != "" {
		return m.ID
	}
	if m.DocumentType != "" {
		return m.DocumentType
	}
	return filepath.Base(m.AtlasPath)
}

// paths lists every file the manifest references, in a stable order.
func (m *Manifest) paths() []string {
	var out []string
	for _, p := range []string{m.AtlasPath, m.Blocks, m.HOCR, m.DocAI, m.PDF, m.AcroFormPDF} {
		if p != "" {
			out = append(out, p)
		}
	}
	for _, p := range m.Images {
		if p != "" {
			out = append(out, p)
		}
	}
	return append(out, m.Sources...)
}
