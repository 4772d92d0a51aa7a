package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
	"github.com/a3tai/mcp-form-atlas/internal/config"
	"github.com/a3tai/mcp-form-atlas/internal/descriptions"
	"github.com/a3tai/mcp-form-atlas/internal/extract"
)

const testDocType = "test_application"

type testEnv struct {
	cfg      *config.Config
	registry *prometheus.Registry
	server   *Server
}

// newTestEnv writes an atlas, an OCR block file and a manifest into fresh
// document and atlas directories and builds a server over them.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DocDirectory = filepath.Join(root, "docs")
	cfg.AtlasDirectory = filepath.Join(root, "atlases")
	cfg.Version = "test"
	for _, dir := range []string{cfg.DocDirectory, cfg.AtlasDirectory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	a := &atlas.Atlas{
		DocumentType: testDocType,
		DPI:          300,
		Fields: []atlas.Field{
			{Name: "Name", XMin: 200, YMin: 100, XMax: 500, YMax: 140, Kind: atlas.KindText, Labels: []string{"Name"}},
			{Name: "Phone", XMin: 200, YMin: 200, XMax: 500, YMax: 240, Kind: atlas.KindText, Labels: []string{"Phone"}},
		},
		Anchors: []atlas.Anchor{
			{Text: "APPLICANT INFORMATION", X: 110, Y: 50},
			{Text: "SIGNATURE", X: 100, Y: 900},
		},
	}
	if err := atlas.WriteFile(a, filepath.Join(cfg.AtlasDirectory, testDocType+".json")); err != nil {
		t.Fatalf("Failed to write atlas: %v", err)
	}

	pages := blocks.Pages{{
		blocks.NewRect("APPLICANT INFORMATION", 0, 60, 40, 180, 70),
		blocks.NewRect("SIGNATURE", 0, 80, 890, 140, 920),
		blocks.NewRect("Name:", 0, 150, 115, 195, 135),
		blocks.NewRect("Jane Doe", 0, 260, 115, 340, 135),
		blocks.NewRect("Phone:", 0, 150, 215, 195, 235),
		blocks.NewRect("555-0100", 0, 260, 215, 340, 235),
	}}
	data, err := json.Marshal(map[string]any{"pages": pages})
	if err != nil {
		t.Fatalf("Failed to encode blocks: %v", err)
	}
	writeFile(t, filepath.Join(cfg.DocDirectory, "blocks.json"), string(data))
	writeFile(t, filepath.Join(cfg.DocDirectory, "app-0001.yaml"),
		"id: app-0001\ndocument_type: "+testDocType+"\nblocks: blocks.json\n")

	registry := atlas.NewRegistry(cfg.RegistryConfig(), nil)
	t.Cleanup(registry.Close)

	reg := prometheus.NewRegistry()
	service, err := extract.FromConfig(cfg, registry, extract.NewMetrics(reg), nil)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	opts = append([]Option{WithGatherer(reg)}, opts...)
	server, err := NewServer(cfg, service, opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return &testEnv{cfg: cfg, registry: reg, server: server}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error),
	args map[string]interface{},
) *mcp.CallToolResult {
	t.Helper()
	request := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
	result, err := handler(context.Background(), request)
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if result == nil {
		t.Fatal("Handler returned nil result")
	}
	return result
}

// extractTextFromResult concatenates the text content of a tool result.
func extractTextFromResult(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func TestNewServer(t *testing.T) {
	env := newTestEnv(t)
	if env.server.mcpServer == nil {
		t.Error("Expected MCP server to be created")
	}
	if env.server.config != env.cfg {
		t.Error("Expected server to keep its config")
	}

	service := extract.NewService(extract.DefaultOptions())
	if _, err := NewServer(nil, service); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewServer(config.DefaultConfig(), nil); err == nil {
		t.Error("Expected error for nil service")
	}
}

func TestServer_HandleExtract(t *testing.T) {
	env := newTestEnv(t)

	result := callTool(t, env.server.handleExtract, map[string]interface{}{"path": "app-0001.yaml"})
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(result))
	}
	text := extractTextFromResult(result)
	for _, want := range []string{
		"Extracted 2 fields from app-0001 (" + testDocType + ")",
		"Sources: positional=2, label_value=2",
		`"Name": "Jane Doe"`,
		`"Phone": "555-0100"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestServer_HandleExtractErrors(t *testing.T) {
	env := newTestEnv(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.yaml")
	writeFile(t, outside, "document_type: "+testDocType+"\nblocks: blocks.json\n")

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing path", map[string]interface{}{}, "path"},
		{"outside directories", map[string]interface{}{"path": outside}, "outside"},
		{"missing manifest", map[string]interface{}{"path": "nope.yaml"}, "Extraction failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, env.server.handleExtract, tt.args)
			if !result.IsError {
				t.Fatal("Expected error result")
			}
			if text := extractTextFromResult(result); !strings.Contains(text, tt.want) {
				t.Errorf("Expected error to contain %q, got %q", tt.want, text)
			}
		})
	}
}

func TestServer_HandleAlign(t *testing.T) {
	env := newTestEnv(t)

	result := callTool(t, env.server.handleAlign, map[string]interface{}{"path": "app-0001.yaml"})
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(result))
	}
	text := extractTextFromResult(result)
	for _, want := range []string{"Alignment of app-0001", "Anchors matched: 2 of 2", "page 0: dx=10.0 dy=5.0"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestServer_HandleFuse(t *testing.T) {
	env := newTestEnv(t)

	candidates := `[
		{"source": "positional", "confidence": 0.9, "fields": {"Name": "Jane Doe"}},
		{"source": "vision", "confidence": 0.8, "fields": {"Name": "Jane Doe", "Phone": "555-0100"}}
	]`
	result := callTool(t, env.server.handleFuse, map[string]interface{}{
		"candidates":     candidates,
		"low_confidence": 0.9,
	})
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(result))
	}
	text := extractTextFromResult(result)
	if !strings.Contains(text, "Fused 2 fields from 2 candidate sets") {
		t.Errorf("Unexpected summary:\n%s", text)
	}
	if !strings.Contains(text, "Low confidence fields (1):") || !strings.Contains(text, "• Phone:") {
		t.Errorf("Expected Phone to be flagged for review:\n%s", text)
	}

	bad := callTool(t, env.server.handleFuse, map[string]interface{}{"candidates": "{not json"})
	if !bad.IsError {
		t.Error("Expected error result for malformed candidates")
	}
}

func TestServer_HandleAtlasTools(t *testing.T) {
	env := newTestEnv(t)

	list := callTool(t, env.server.handleAtlasList, nil)
	if list.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(list))
	}
	text := extractTextFromResult(list)
	if !strings.Contains(text, "Available document types: 1") || !strings.Contains(text, testDocType) {
		t.Errorf("Unexpected atlas list:\n%s", text)
	}

	info := callTool(t, env.server.handleAtlasInfo, map[string]interface{}{"document_type": testDocType})
	if info.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(info))
	}
	text = extractTextFromResult(info)
	if !strings.Contains(text, "Fields: 2") || !strings.Contains(text, "Anchors: 2") {
		t.Errorf("Unexpected atlas info:\n%s", text)
	}

	missing := callTool(t, env.server.handleAtlasInfo, map[string]interface{}{"document_type": "unknown"})
	if !missing.IsError {
		t.Error("Expected error result for unknown document type")
	}
}

func TestServer_HandleServerInfo(t *testing.T) {
	env := newTestEnv(t)

	result := callTool(t, env.server.handleServerInfo, nil)
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextFromResult(result))
	}
	text := extractTextFromResult(result)
	if !strings.Contains(text, "mcp-form-atlas vtest") {
		t.Errorf("Expected server name and version in output:\n%s", text)
	}
	for _, name := range descriptions.GetAllToolNames() {
		if !strings.Contains(text, name) {
			t.Errorf("Expected tool %s in server info", name)
		}
	}
}

func TestServer_ToolsList(t *testing.T) {
	env := newTestEnv(t)

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	response := env.server.mcpServer.HandleMessage(context.Background(), msg)
	data, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("Failed to encode response: %v", err)
	}

	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	got := make(map[string]bool)
	for _, tool := range decoded.Result.Tools {
		got[tool.Name] = true
	}
	want := descriptions.GetAllToolNames()
	if len(got) != len(want) {
		t.Errorf("Expected %d tools, got %d", len(want), len(got))
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("Tool %s not registered", name)
		}
	}
}
