package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/config"
)

const (
	testVersion = "1.2.3"
	devVersion  = "dev"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = originalStdout }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
		w.Close()
	}()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	<-done
	return buf.String()
}

func TestPrintVersion(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	tests := []struct {
		name      string
		version   string
		buildTime string
		gitCommit string
	}{
		{"release build", testVersion, "2023-12-01_10:30:00", "abc123"},
		{"defaults", devVersion, "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, buildTime, gitCommit = tt.version, tt.buildTime, tt.gitCommit
			output := captureStdout(t, printVersion)

			expectedStrings := []string{
				"MCP Form Atlas",
				"Version: " + tt.version,
				"Build Time: " + tt.buildTime,
				"Git Commit: " + tt.gitCommit,
				"Built with:",
			}
			for _, expected := range expectedStrings {
				if !strings.Contains(output, expected) {
					t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
				}
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		logLevel  string
		wantDebug bool
		wantInfo  bool
	}{
		{"stdio mode - debug enabled", config.ModeStdio, "debug", true, true},
		{"stdio mode - info is quietened", config.ModeStdio, "info", false, false},
		{"server mode - info", config.ModeServer, "info", false, true},
		{"server mode - error", config.ModeServer, "error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(&config.Config{Mode: tt.mode, LogLevel: tt.logLevel})
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}
			if got := logger.Core().Enabled(zap.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := logger.Core().Enabled(zap.InfoLevel); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
		})
	}

	if _, err := newLogger(&config.Config{Mode: config.ModeServer, LogLevel: "loud"}); err == nil {
		t.Error("newLogger() with an invalid level should fail")
	}
}

func TestNewApp(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DocDirectory = root
	cfg.AtlasDirectory = filepath.Join(root, "atlases")

	a, err := newApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	if a.server == nil {
		t.Error("newApp() did not create a server")
	}
	if a.registry.Dir() != cfg.AtlasDirectory {
		t.Errorf("registry dir = %s, want %s", a.registry.Dir(), cfg.AtlasDirectory)
	}

	// Closing twice must not block.
	a.Close()
}

func TestConfigModeLogic(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		wantStdio  bool
		wantServer bool
	}{
		{"stdio mode", "stdio", true, false},
		{"server mode", "server", false, true},
		{"empty mode", "", false, false},
		{"invalid mode", "invalid", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Mode: tt.mode}
			if got := cfg.IsStdioMode(); got != tt.wantStdio {
				t.Errorf("Config.IsStdioMode() with Mode=%s: got %v, want %v", tt.mode, got, tt.wantStdio)
			}
			if got := cfg.IsServerMode(); got != tt.wantServer {
				t.Errorf("Config.IsServerMode() with Mode=%s: got %v, want %v", tt.mode, got, tt.wantServer)
			}
		})
	}
}
