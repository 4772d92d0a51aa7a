package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/config"
	"github.com/a3tai/mcp-form-atlas/internal/extract"
	"github.com/a3tai/mcp-form-atlas/internal/logging"
)

// env is the state the subcommands share once flags are parsed.
type env struct {
	v        *viper.Viper
	cfg      *config.Config
	logger   *zap.Logger
	registry *atlas.Registry
	service  *extract.Service
}

func (e *env) setup() error {
	cfg, err := config.FromViper(e.v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.IsDebug())
	if err != nil {
		return err
	}
	registry := atlas.NewRegistry(cfg.RegistryConfig(), logger.Named("atlas"))
	service, err := extract.FromConfig(cfg, registry, nil, logger.Named("extract"))
	if err != nil {
		registry.Close()
		return err
	}
	e.cfg, e.logger, e.registry, e.service = cfg, logger, registry, service
	return nil
}

func (e *env) close() {
	if e.registry != nil {
		e.registry.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// newRootCmd builds the command tree. The returned func releases what the
// subcommands opened and must run after Execute.
func newRootCmd() (*cobra.Command, func()) {
	e := &env{v: viper.New()}
	cfg := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "form-extract",
		Short: "Extract field values from scanned forms using atlases",
		Long: `form-extract aligns observed text blocks to a per-form atlas, assigns values to
fields by position, label pairing and checkbox pixels, and fuses them with any
other candidate sources named in each document manifest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return e.setup()
		},
	}

	config.SetDefaults(e.v, cfg)
	config.DefineFlags(root.PersistentFlags(), cfg)
	config.BindFlags(e.v, root.PersistentFlags())

	root.AddCommand(newRunCmd(e), newAlignCmd(e), newFuseCmd(e))
	return root, e.close
}

// manifestPaths expands directories into the manifests they contain and
// makes every path absolute.
func manifestPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, entry := range entries {
			if entry.IsDir() || !isManifestName(entry.Name()) {
				continue
			}
			found = append(found, filepath.Join(abs, entry.Name()))
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no manifests found in %s", strings.Join(args, ", "))
	}
	return out, nil
}

// isManifestName matches manifest files by extension, skipping the block
// and candidate files that usually sit beside them.
func isManifestName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	case ".json":
		return strings.HasSuffix(strings.ToLower(name), ".manifest.json")
	default:
		return false
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openOutput returns stdout for "-" and a created file otherwise.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
