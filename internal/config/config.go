package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-form-atlas/internal/align"
	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/fusion"
	"github.com/a3tai/mcp-form-atlas/internal/match"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultMaxFileSize    = 100 * 1024 * 1024 // 100MB
	DefaultAtlasTTL       = 10 * time.Minute
	DefaultAtlasCacheSize = 64
	DefaultWorkers        = 4
	DefaultEmptyRatio     = 0.05

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix is prepended to every environment variable.
	EnvPrefix = "FORM_ATLAS"
)

// Thresholds holds the tunable extraction thresholds.
type Thresholds struct {
	IoUThreshold      float64
	CheckedRatio      float64
	EmptyRatio        float64
	AnchorMaxDistance float64
	QualityFloor      float64
	AgreementBonus    float64
}

// Config holds all configuration for the form atlas server and CLI
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Document and atlas locations
	DocDirectory   string
	AtlasDirectory string
	AtlasTTL       time.Duration
	AtlasCacheSize uint64

	// Extraction configuration
	Workers    int
	Thresholds Thresholds
	Weights    map[string]float64

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum input file size in bytes
	Metrics     bool  // Expose /metrics in server mode
	ConfigFile  string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	mc := match.DefaultConfig()
	return &Config{
		Mode:           ModeStdio, // Default to stdio mode for MCP compatibility
		Host:           DefaultHost,
		Port:           DefaultPort,
		DocDirectory:   currentDir,
		AtlasDirectory: filepath.Join(currentDir, "atlases"),
		AtlasTTL:       DefaultAtlasTTL,
		AtlasCacheSize: DefaultAtlasCacheSize,
		Workers:        DefaultWorkers,
		Thresholds: Thresholds{
			IoUThreshold:      mc.IoUThreshold,
			CheckedRatio:      mc.CheckedRatio,
			EmptyRatio:        DefaultEmptyRatio,
			AnchorMaxDistance: mc.Align.MaxAnchorDistance,
			QualityFloor:      mc.Align.QualityFloor,
			AgreementBonus:    fusion.DefaultConfig().AgreementBonus,
		},
		Version:     "1.0.0",
		ServerName:  "mcp-form-atlas",
		LogLevel:    DefaultLogLevel,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	SetDefaults(viper.GetViper(), cfg)
	DefineFlags(pflag.CommandLine, cfg)
	BindFlags(viper.GetViper(), pflag.CommandLine)
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	return FromViper(viper.GetViper())
}

// SetDefaults configures v with environment variables and defaults
func SetDefaults(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("dir", cfg.DocDirectory)
	v.SetDefault("atlas-dir", cfg.AtlasDirectory)
	v.SetDefault("atlas-ttl", cfg.AtlasTTL)
	v.SetDefault("atlas-cache-size", cfg.AtlasCacheSize)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("max-file-size", cfg.MaxFileSize)
	v.SetDefault("metrics", cfg.Metrics)
	v.SetDefault("iou-threshold", cfg.Thresholds.IoUThreshold)
	v.SetDefault("checked-ratio", cfg.Thresholds.CheckedRatio)
	v.SetDefault("empty-ratio", cfg.Thresholds.EmptyRatio)
	v.SetDefault("anchor-max-distance", cfg.Thresholds.AnchorMaxDistance)
	v.SetDefault("quality-floor", cfg.Thresholds.QualityFloor)
	v.SetDefault("agreement-bonus", cfg.Thresholds.AgreementBonus)
}

// DefineFlags sets up all command line flags on fs
func DefineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("dir", cfg.DocDirectory, "Directory containing documents, manifests and block files")
	fs.String("atlas-dir", cfg.AtlasDirectory, "Directory containing atlas files")
	fs.Duration("atlas-ttl", cfg.AtlasTTL, "How long a loaded atlas stays cached (0 keeps it forever)")
	fs.Uint64("atlas-cache-size", cfg.AtlasCacheSize, "Maximum number of cached atlases")
	fs.Int("workers", cfg.Workers, "Documents processed concurrently in batch runs")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Maximum input file size in bytes")
	fs.Bool("metrics", cfg.Metrics, "Expose Prometheus metrics at /metrics (server mode only)")
	fs.Float64("iou-threshold", cfg.Thresholds.IoUThreshold, "Minimum overlap for the fallback text match")
	fs.Float64("checked-ratio", cfg.Thresholds.CheckedRatio, "Ink fraction at which a checkbox counts as checked")
	fs.Float64("empty-ratio", cfg.Thresholds.EmptyRatio, "Ink fraction below which a checkbox counts as empty")
	fs.Float64("anchor-max-distance", cfg.Thresholds.AnchorMaxDistance, "Largest accepted anchor displacement in pixels")
	fs.Float64("quality-floor", cfg.Thresholds.QualityFloor, "Alignment quality when no anchor matched")
	fs.Float64("agreement-bonus", cfg.Thresholds.AgreementBonus, "Fusion bonus per agreeing source")
	fs.String("config", "", "Optional YAML or JSON config file")
}

// BindFlags binds every flag in fs to the viper key of the same name
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP Form Atlas - A Model Context Protocol server for atlas-guided form extraction\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/data/forms --atlas-dir=/data/atlases\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --metrics                  # server mode with /metrics\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config=form-atlas.yaml                 # thresholds and source weights\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_MODE         Server mode\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_HOST         Server host\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_PORT         Server port\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_DIR          Document directory\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_ATLAS_DIR    Atlas directory\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_LOG_LEVEL    Log level\n")
		fmt.Fprintf(os.Stderr, "  FORM_ATLAS_WORKERS      Batch concurrency\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return ErrVersionRequested
		}
	}
	return nil
}

// envKeyReplacer maps flag-style keys to environment variable names.
var envKeyReplacer = strings.NewReplacer("-", "_")

// ErrVersionRequested is returned by LoadFromFlags when --version was given.
var ErrVersionRequested = errors.New("version requested")

// FromViper reads an optional config file, fills a Config from v and
// validates it
func FromViper(v *viper.Viper) (*Config, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	populateConfigFromViper(v, cfg)

	// Expand paths if needed
	for _, p := range []*string{&cfg.DocDirectory, &cfg.AtlasDirectory} {
		if *p == "" {
			continue
		}
		if expandedPath, err := filepath.Abs(*p); err == nil {
			*p = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.DocDirectory = v.GetString("dir")
	cfg.AtlasDirectory = v.GetString("atlas-dir")
	cfg.AtlasTTL = v.GetDuration("atlas-ttl")
	cfg.AtlasCacheSize = v.GetUint64("atlas-cache-size")
	cfg.Workers = v.GetInt("workers")
	cfg.LogLevel = v.GetString("log-level")
	cfg.MaxFileSize = v.GetInt64("max-file-size")
	cfg.Metrics = v.GetBool("metrics")
	cfg.ConfigFile = v.GetString("config")
	cfg.Thresholds = Thresholds{
		IoUThreshold:      v.GetFloat64("iou-threshold"),
		CheckedRatio:      v.GetFloat64("checked-ratio"),
		EmptyRatio:        v.GetFloat64("empty-ratio"),
		AnchorMaxDistance: v.GetFloat64("anchor-max-distance"),
		QualityFloor:      v.GetFloat64("quality-floor"),
		AgreementBonus:    v.GetFloat64("agreement-bonus"),
	}

	if raw := v.GetStringMap("weights"); len(raw) > 0 {
		cfg.Weights = make(map[string]float64, len(raw))
		for source := range raw {
			cfg.Weights[source] = v.GetFloat64("weights." + source)
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.DocDirectory == "" {
		return errors.New("document directory cannot be empty")
	}
	if c.AtlasDirectory == "" {
		return errors.New("atlas directory cannot be empty")
	}

	// Check if the document directory exists, create if it doesn't
	if _, err := os.Stat(c.DocDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DocDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create document directory %s: %w", c.DocDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access document directory %s: %w", c.DocDirectory, err)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.AtlasTTL < 0 {
		return errors.New("atlas TTL cannot be negative")
	}

	if err := c.Thresholds.validate(); err != nil {
		return err
	}
	for source, w := range c.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for source %q must be between 0 and 1", source)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

func (t Thresholds) validate() error {
	ratios := map[string]float64{
		"iou-threshold":   t.IoUThreshold,
		"checked-ratio":   t.CheckedRatio,
		"empty-ratio":     t.EmptyRatio,
		"quality-floor":   t.QualityFloor,
		"agreement-bonus": t.AgreementBonus,
	}
	for name, v := range ratios {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if t.EmptyRatio >= t.CheckedRatio {
		return errors.New("empty-ratio must be below checked-ratio")
	}
	if t.AnchorMaxDistance <= 0 {
		return errors.New("anchor-max-distance must be positive")
	}
	return nil
}

// MatchConfig returns the matcher configuration with the configured
// thresholds applied.
func (c *Config) MatchConfig() match.Config {
	mc := match.DefaultConfig()
	mc.IoUThreshold = c.Thresholds.IoUThreshold
	mc.CheckedRatio = c.Thresholds.CheckedRatio
	mc.Align = align.Config{
		MaxAnchorDistance: c.Thresholds.AnchorMaxDistance,
		QualityFloor:      c.Thresholds.QualityFloor,
	}
	return mc
}

// FusionConfig returns the fusion configuration.
func (c *Config) FusionConfig() fusion.Config {
	fc := fusion.DefaultConfig()
	fc.AgreementBonus = c.Thresholds.AgreementBonus
	fc.Weights = c.Weights
	return fc
}

// RegistryConfig returns the atlas registry configuration.
func (c *Config) RegistryConfig() atlas.RegistryConfig {
	return atlas.RegistryConfig{Dir: c.AtlasDirectory, TTL: c.AtlasTTL, Capacity: c.AtlasCacheSize}
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, DocDirectory: %s, AtlasDirectory: %s, "+
		"LogLevel: %s, Workers: %d, Metrics: %t}",
		c.Mode, c.Host, c.Port, c.DocDirectory, c.AtlasDirectory, c.LogLevel, c.Workers, c.Metrics)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
