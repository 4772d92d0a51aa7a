// Command form_atlas_build derives an atlas from a reference AcroForm PDF
// and reports field drift against a second reference.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/logging"
)

type options struct {
	docType   string
	name      string
	dpi       float64
	anchors   []string
	output    string
	format    string
	compare   string
	threshold float64
	verbose   bool
	help      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr, fs)
		return 2
	}
	if opts.help {
		printHelp(stdout, fs)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "Error: reference PDF path required\n\n")
		printUsage(stderr, fs)
		return 2
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := build(fs.Arg(0), opts, stdout, stderr, logger); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("form_atlas_build", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.docType, "type", "t", "", "Document type the atlas describes (required)")
	fs.StringVar(&opts.name, "name", "", "Human readable form name")
	fs.Float64Var(&opts.dpi, "dpi", atlas.DefaultDPI, "Resolution of the page images the atlas coordinates refer to")
	fs.StringSliceVar(&opts.anchors, "anchor", nil, "Anchor label to locate (repeatable, defaults to the ACORD captions)")
	fs.StringVarP(&opts.output, "output", "o", "", "Atlas file to write (.json, .yaml or .yml); stdout when empty")
	fs.StringVar(&opts.format, "format", string(atlas.FormatYAML), "Encoding when writing to stdout: json or yaml")
	fs.StringVar(&opts.compare, "compare", "", "Second reference PDF or atlas file to check field drift against")
	fs.Float64Var(&opts.threshold, "drift-threshold", atlas.DefaultDriftThreshold, "Corner movement in pixels reported as drift")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show help message")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if opts.help {
		return opts, fs, nil
	}
	if opts.docType == "" {
		return nil, fs, errors.New("--type is required")
	}
	switch atlas.Format(opts.format) {
	case atlas.FormatJSON, atlas.FormatYAML:
	default:
		return nil, fs, fmt.Errorf("unsupported output format: %s", opts.format)
	}
	return opts, fs, nil
}

func build(pdfPath string, opts *options, stdout, stderr io.Writer, logger *zap.Logger) error {
	builder := atlas.NewBuilder(logger)
	buildOpts := atlas.BuildOptions{
		DocumentType: opts.docType,
		Name:         opts.name,
		DPI:          opts.dpi,
		AnchorLabels: upper(opts.anchors),
	}

	a, err := builder.Build(pdfPath, buildOpts)
	if err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("built atlas is invalid: %w", err)
	}

	var drift []atlas.Drift
	if opts.compare != "" {
		other, err := loadReference(builder, opts.compare, buildOpts)
		if err != nil {
			return fmt.Errorf("failed to load comparison reference: %w", err)
		}
		drift = atlas.Compare(a, other, opts.threshold)
	}

	if opts.output != "" {
		if err := atlas.WriteFile(a, opts.output); err != nil {
			return err
		}
		printSummary(stdout, a, opts.output)
		printDrift(stdout, drift, opts.compare)
		return nil
	}

	data, err := atlas.Encode(a, atlas.Format(opts.format))
	if err != nil {
		return err
	}
	if _, err := stdout.Write(data); err != nil {
		return err
	}
	if len(drift) > 0 {
		// Keep stdout a clean atlas document.
		logger.Warn("fields drift between references",
			zap.String("compare", opts.compare), zap.Int("fields", len(drift)))
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		return enc.Encode(drift)
	}
	return nil
}

// loadReference reads an existing atlas file or builds one from a PDF.
func loadReference(builder *atlas.Builder, path string, opts atlas.BuildOptions) (*atlas.Atlas, error) {
	if _, err := atlas.FormatOf(path); err == nil {
		return atlas.LoadFile(path)
	}
	return builder.Build(path, opts)
}

func upper(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.ToUpper(strings.TrimSpace(l)); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func printSummary(w io.Writer, a *atlas.Atlas, path string) {
	s := a.Summarize()
	fmt.Fprintf(w, "✅ Wrote atlas %s to %s\n", s.DocumentType, filepath.Clean(path))
	fmt.Fprintf(w, "    Fields: %d on %d pages\n", s.Fields, s.Pages)
	kinds := make([]string, 0, len(s.ByKind))
	for kind := range s.ByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "      %s: %d\n", kind, s.ByKind[atlas.Kind(kind)])
	}
	fmt.Fprintf(w, "    Anchors: %d", s.Anchors)
	if len(s.AnchorTexts) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(s.AnchorTexts, ", "))
	}
	fmt.Fprintln(w)
	if s.Anchors == 0 {
		fmt.Fprintln(w, "⚠️  No anchor labels found; scans of this form cannot be aligned")
	}
}

func printDrift(w io.Writer, drift []atlas.Drift, compare string) {
	if compare == "" {
		return
	}
	if len(drift) == 0 {
		fmt.Fprintf(w, "✅ No field drift against %s\n", compare)
		return
	}
	fmt.Fprintf(w, "⚠️  %d fields drift against %s\n", len(drift), compare)
	for _, d := range drift {
		if d.PageChanged {
			fmt.Fprintf(w, "  • %s: moved to another page\n", d.Field)
			continue
		}
		fmt.Fprintf(w, "  • %s: %.1f px\n", d.Field, d.MaxDelta)
	}
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Form Atlas Build - Derive a field atlas from a reference AcroForm PDF")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Reads the widget rectangles of every text, choice, checkbox and radio field and")
	fmt.Fprintln(w, "locates the anchor captions in the text layer, all in page-image pixels.")
	fmt.Fprintln(w)
	printUsage(w, fs)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  form_atlas_build -t acord_125 -o atlases/acord_125.yaml acord125-ref.pdf")
	fmt.Fprintln(w, "  form_atlas_build -t acord_125 --compare atlases/acord_125.yaml acord125-2016.pdf")
	fmt.Fprintln(w, "  form_atlas_build -t w9 --anchor 'Request for Taxpayer' --format json w9.pdf")
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  form_atlas_build [OPTIONS] <reference_pdf>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprint(w, fs.FlagUsages())
}
