package atlas

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed atlas.schema.json
var schemaJSON []byte

// Format is an atlas file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrNotFound is returned when no atlas file exists for a document type.
var ErrNotFound = errors.New("atlas not found")

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("atlas.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("atlas.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported atlas file extension %q", filepath.Ext(path))
	}
}

// LoadFile reads, schema-validates and decodes an atlas file.
func LoadFile(path string) (*Atlas, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read atlas: %w", err)
	}
	a, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decode validates data against the atlas schema and decodes it. Fields
// without a kind default to text.
func Decode(data []byte, format Format) (*Atlas, error) {
	jsonData := data
	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
		jsonData = b
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(jsonData, &v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("atlas does not match schema: %w", err)
	}

	var a Atlas
	if err := json.Unmarshal(jsonData, &a); err != nil {
		return nil, fmt.Errorf("failed to decode atlas: %w", err)
	}
	for i := range a.Fields {
		if a.Fields[i].Kind == "" {
			a.Fields[i].Kind = KindText
		}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid atlas: %w", err)
	}
	return &a, nil
}

// Encode writes a in the given format.
func Encode(a *Atlas, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(a, "", "  ")
	case FormatYAML:
		// Round-trip through JSON so YAML keys follow the json tags.
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
		setBlockStyle(&doc)
		return yaml.Marshal(&doc)
	default:
		return nil, fmt.Errorf("unsupported atlas format %q", format)
	}
}

// setBlockStyle clears the flow style JSON input leaves on every node.
func setBlockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	for _, c := range n.Content {
		setBlockStyle(c)
	}
}

// WriteFile encodes a using the format implied by path.
func WriteFile(a *Atlas, path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := Encode(a, format)
	if err != nil {
		return fmt.Errorf("failed to encode atlas: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write atlas: %w", err)
	}
	return nil
}
