package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/config"
	"github.com/a3tai/mcp-form-atlas/internal/descriptions"
	"github.com/a3tai/mcp-form-atlas/internal/extract"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/sources"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *extract.Service
	mcpServer *server.MCPServer
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	stdin     io.Reader
	stdout    io.Writer
}

// Option customizes a Server.
type Option func(*Server)

// WithGatherer sets the registry served on /metrics in server mode.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStdio replaces the process standard streams used in stdio mode.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(s *Server) { s.stdin, s.stdout = in, out }
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, service *extract.Service, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if service == nil {
		return nil, errors.New("extraction service cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		service:   service,
		mcpServer: mcpServer,
		gatherer:  prometheus.DefaultGatherer,
		logger:    zap.NewNop(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolExtract,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolExtract)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the document manifest (JSON or YAML), relative to the document directory or absolute"),
		),
	), s.handleExtract)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolAlign,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolAlign)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the document manifest"),
		),
	), s.handleAlign)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolFuse,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolFuse)),
		mcp.WithString("candidates",
			mcp.Required(),
			mcp.Description(`JSON candidate set or array of sets: {"source": "...", "confidence": 0.8, "fields": {...}}`),
		),
		mcp.WithNumber("low_confidence",
			mcp.Description("Fused confidence under which a field is listed for review"),
		),
	), s.handleFuse)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolAtlasList,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolAtlasList)),
	), s.handleAtlasList)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolAtlasInfo,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolAtlasInfo)),
		mcp.WithString("document_type",
			mcp.Required(),
			mcp.Description("Document type as listed by form_atlas_list"),
		),
	), s.handleAtlasInfo)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.ToolServerInfo,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolServerInfo)),
	), s.handleServerInfo)
}

// Handler functions

func (s *Server) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.Extract(ctx, extract.ExtractRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Extraction failed: %v", err)), nil
	}
	return textWithJSON(formatExtractResult(result), result)
}

func (s *Server) handleAlign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.Align(ctx, extract.AlignRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Alignment failed: %v", err)), nil
	}
	return textWithJSON(formatAlignResult(result), result)
}

func (s *Server) handleFuse(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("candidates")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sets, err := sources.Decode([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.Fuse(extract.FuseRequest{
		Candidates:    sets,
		LowConfidence: request.GetFloat("low_confidence", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fusion failed: %v", err)), nil
	}
	text := fmt.Sprintf("Fused %d fields from %d candidate sets\n", len(result.Fields), len(sets))
	text += formatReview(result.LowConfidence, len(result.Disagreements))
	return textWithJSON(text, result)
}

func (s *Server) handleAtlasList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.service.AtlasList()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Listing atlases failed: %v", err)), nil
	}
	text := fmt.Sprintf("Atlas directory: %s\n", result.Directory)
	text += fmt.Sprintf("Available document types: %d\n", len(result.Atlases))
	for _, a := range result.Atlases {
		text += fmt.Sprintf("  • %s: %d fields on %d pages, %d anchors\n", a.DocumentType, a.Fields, a.Pages, a.Anchors)
	}
	for _, name := range sortedKeys(result.Broken) {
		text += fmt.Sprintf("  ✗ %s: %s\n", name, result.Broken[name])
	}
	return textWithJSON(text, result)
}

func (s *Server) handleAtlasInfo(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docType, err := request.RequireString("document_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.AtlasInfo(extract.AtlasInfoRequest{DocumentType: docType})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum := result.Summary
	text := fmt.Sprintf("Atlas %s", sum.DocumentType)
	if sum.Name != "" {
		text += fmt.Sprintf(" (%s)", sum.Name)
	}
	text += fmt.Sprintf("\nDPI: %g\nPages: %d\nFields: %d\nAnchors: %d\nRules: %d\n",
		sum.DPI, sum.Pages, sum.Fields, sum.Anchors, sum.Rules)
	return textWithJSON(text, result)
}

func (s *Server) handleServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.service.ServerInfo(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatServerInfoResult(result)), nil
}

// Formatting

func textWithJSON(text string, v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(text + "\n" + string(data)), nil
}

func formatExtractResult(result *extract.Result) string {
	text := fmt.Sprintf("Extracted %d fields from %s (%s)\n", len(result.Fields), result.Document, result.DocumentType)
	text += fmt.Sprintf("Run: %s\n", result.RunID)
	text += fmt.Sprintf("Alignment quality: %.3f\n", result.Alignment.Quality)
	if len(result.Sources) > 0 {
		parts := make([]string, 0, len(result.Sources))
		for _, sc := range result.Sources {
			parts = append(parts, fmt.Sprintf("%s=%d", sc.Source, sc.Fields))
		}
		text += "Sources: " + strings.Join(parts, ", ") + "\n"
	}
	text += formatReview(result.LowConfidence, len(result.Disagreements))
	for _, w := range result.Warnings {
		text += fmt.Sprintf("⚠️  %s\n", w)
	}
	return text
}

func formatAlignResult(result *extract.AlignResult) string {
	text := fmt.Sprintf("Alignment of %s against %s\n", result.Document, result.DocumentType)
	text += fmt.Sprintf("Pages: %d, blocks: %d\n", result.Pages, result.Blocks)
	text += fmt.Sprintf("Anchors matched: %d of %d\n", len(result.Alignment.Matches), result.Alignment.TotalAnchors)
	text += fmt.Sprintf("Quality: %.3f\n", result.Alignment.Quality)
	for _, p := range result.Alignment.Pages() {
		off := result.Alignment.Offset(p)
		text += fmt.Sprintf("  page %d: dx=%.1f dy=%.1f (%d anchors)", p, off.DX, off.DY, off.Anchors)
		if off.LowQuality {
			text += " no anchor found"
		}
		text += "\n"
	}
	return text
}

func formatReview(low []fusion.FieldScore, disagreements int) string {
	text := ""
	if len(low) > 0 {
		text += fmt.Sprintf("Low confidence fields (%d):\n", len(low))
		for _, f := range low {
			text += fmt.Sprintf("  • %s: %.3f\n", f.Field, f.Confidence)
		}
	}
	if disagreements > 0 {
		text += fmt.Sprintf("Fields with disagreeing sources: %d\n", disagreements)
	}
	return text
}

func formatServerInfoResult(result *extract.ServerInfoResult) string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", result.ServerName, result.Version)
	text += fmt.Sprintf("📁 Atlas Directory: %s\n", result.AtlasDirectory)
	if len(result.Directories) > 0 {
		text += fmt.Sprintf("📁 Allowed Directories: %s\n", strings.Join(result.Directories, ", "))
	}
	text += fmt.Sprintf("📏 Max File Size: %d MB\n\n", result.MaxFileSize/(1024*1024))

	if len(result.Atlases) > 0 {
		text += fmt.Sprintf("🗺️  Atlases (%d): %s\n\n", len(result.Atlases), strings.Join(result.Atlases, ", "))
	} else {
		text += "🗺️  Atlases: none found in atlas directory\n\n"
	}

	text += "⚖️  Source Weights:\n"
	for _, name := range sortedKeys(result.SourceWeights) {
		text += fmt.Sprintf("  • %s: %.2f\n", name, result.SourceWeights[name])
	}

	text += "\n🛠️  Available Tools:\n"
	for _, tool := range result.AvailableTools {
		text += fmt.Sprintf("\n• %s\n", tool.Name)
		text += fmt.Sprintf("  Usage: %s\n", tool.Usage)
		text += fmt.Sprintf("  Parameters: %s\n", tool.Parameters)
	}

	if len(result.SupportedFormats) > 0 {
		text += "\n📄 Supported Inputs:\n"
		for _, format := range result.SupportedFormats {
			text += fmt.Sprintf("  • %s\n", format)
		}
	}

	text += "\n" + result.UsageGuidance
	return text
}

// Run starts the MCP server in the configured mode and returns when ctx is
// cancelled or the transport stops.
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode serves MCP over the standard streams
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Debug("starting stdio server",
		zap.String("doc_dir", s.config.DocDirectory),
		zap.String("atlas_dir", s.config.AtlasDirectory))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE, plus /metrics when enabled
func (s *Server) runServerMode(ctx context.Context) error {
	httpServer, sse := s.newHTTPServer(s.config.Address())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting SSE server",
			zap.String("address", httpServer.Addr),
			zap.Bool("metrics", s.config.Metrics))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve HTTP: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	s.logger.Info("SSE server stopped")
	return nil
}

func (s *Server) newHTTPServer(addr string) (*http.Server, *server.SSEServer) {
	httpServer := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	sse := server.NewSSEServer(s.mcpServer,
		server.WithBaseURL("http://"+addr),
		server.WithHTTPServer(httpServer),
		server.WithKeepAlive(true),
	)

	mux := http.NewServeMux()
	mux.Handle(sse.CompleteSsePath(), sse.SSEHandler())
	mux.Handle(sse.CompleteMessagePath(), sse.MessageHandler())
	if s.config.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	httpServer.Handler = mux
	return httpServer, sse
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
