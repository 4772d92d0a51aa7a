package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-form-atlas/internal/export"
	"github.com/a3tai/mcp-form-atlas/internal/extract"
	"github.com/a3tai/mcp-form-atlas/internal/sources"
)

func newRunCmd(e *env) *cobra.Command {
	var xlsxPath, jsonPath string

	cmd := &cobra.Command{
		Use:   "run <manifest|dir>...",
		Short: "Extract every document manifest given",
		Long: `Extract the documents described by the given manifests, or by every YAML
manifest (and *.manifest.json) in the given directories. Manifests and the
files they name must sit under --dir or --atlas-dir.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := manifestPaths(args)
			if err != nil {
				return err
			}

			items, err := e.service.Batch(cmd.Context(), paths, e.cfg.Workers)
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				if err := export.SaveXLSX(xlsxPath, items); err != nil {
					return err
				}
				e.logger.Info("wrote workbook", zap.String("path", xlsxPath))
			}
			if jsonPath != "" {
				w, closeFn, err := openOutput(cmd, jsonPath)
				if err != nil {
					return err
				}
				if err := export.WriteJSON(w, items); err != nil {
					_ = closeFn()
					return err
				}
				if err := closeFn(); err != nil {
					return err
				}
			}
			if jsonPath != "-" {
				printBatch(cmd, items)
			}

			failed := 0
			for _, it := range items {
				if it.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write results to an XLSX workbook")
	cmd.Flags().StringVar(&jsonPath, "json", "", "Write results as JSON to a file, or - for stdout")
	return cmd
}

func printBatch(cmd *cobra.Command, items []extract.BatchItem) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tTYPE\tFIELDS\tALIGNMENT\tREVIEW\tSTATUS")
	for _, it := range items {
		if it.Result == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s\n", filepath.Base(it.Path), it.Error)
			continue
		}
		r := it.Result
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%d\tok\n",
			r.Document, r.DocumentType, len(r.Fields), r.Alignment.Quality, len(r.LowConfidence)+len(r.Disagreements))
	}
	_ = tw.Flush()
}

func newAlignCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "align <manifest>",
		Short: "Report the per-page alignment of a document against its atlas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			res, err := e.service.Align(cmd.Context(), extract.AlignRequest{Path: path})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFuseCmd(e *env) *cobra.Command {
	var low float64

	cmd := &cobra.Command{
		Use:   "fuse <candidates.json>...",
		Short: "Fuse candidate sets from several sources into one value per field",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sets []sources.CandidateSet
			for _, path := range args {
				loaded, err := sources.LoadFile(path)
				if err != nil {
					return err
				}
				sets = append(sets, loaded...)
			}
			res, err := e.service.Fuse(extract.FuseRequest{Candidates: sets, LowConfidence: low})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if len(res.LowConfidence) > 0 {
				names := make([]string, 0, len(res.LowConfidence))
				for _, f := range res.LowConfidence {
					names = append(names, f.Field)
				}
				sort.Strings(names)
				e.logger.Warn("fields need review", zap.Strings("fields", names))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&low, "low-confidence", extract.DefaultLowConfidence,
		"Fused confidence under which a field is listed for review")
	return cmd
}
