package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/config"
	"github.com/a3tai/mcp-form-atlas/internal/extract"
	"github.com/a3tai/mcp-form-atlas/internal/logging"
	"github.com/a3tai/mcp-form-atlas/internal/mcp"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// newLogger builds the process logger. Stdio sessions keep stdout for the
// protocol, so logs always go to stderr and stay quiet unless debugging.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if cfg.IsStdioMode() && !cfg.IsDebug() {
		level = "warn"
	}
	return logging.New(level, cfg.IsDebug())
}

// app holds everything main wires together.
type app struct {
	server   *mcp.Server
	registry *atlas.Registry
}

func (a *app) Close() {
	a.registry.Close()
}

// newApp wires the atlas registry, metrics, extraction service and MCP
// server for cfg.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	registry := atlas.NewRegistry(cfg.RegistryConfig(), logger.Named("atlas"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := extract.FromConfig(cfg, registry, extract.NewMetrics(reg), logger.Named("extract"))
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("failed to create extraction service: %w", err)
	}

	server, err := mcp.NewServer(cfg, service, mcp.WithGatherer(reg), mcp.WithLogger(logger.Named("mcp")))
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return &app{server: server, registry: registry}, nil
}

func main() {
	// Load configuration from flags first
	cfg, err := config.LoadFromFlags()
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("starting", zap.String("config", cfg.String()))

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// In stdio mode the parent process controls our lifecycle; a signal or
	// closed stdin both end the session.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := a.server.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("MCP Form Atlas\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
