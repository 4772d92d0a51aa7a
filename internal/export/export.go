// Package export writes extraction results as an XLSX workbook or JSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-form-atlas/internal/extract"
)

// Sheet names, in workbook order.
const (
	SheetDocuments     = "Documents"
	SheetFields        = "Fields"
	SheetSources       = "Sources"
	SheetDisagreements = "Disagreements"
)

type sheetSpec struct {
	name    string
	headers []string
	widths  []float64
}

var sheets = []sheetSpec{
	{SheetDocuments, []string{"Document", "Path", "Run ID", "Document Type", "Fields", "Alignment Quality", "Elapsed (ms)", "Error"},
		[]float64{24, 48, 38, 20, 8, 18, 12, 60}},
	{SheetFields, []string{"Document", "Field", "Value", "Confidence", "Source", "Agreement", "Method", "Page"},
		[]float64{24, 40, 40, 12, 14, 10, 26, 6}},
	{SheetSources, []string{"Document", "Source", "Fields"},
		[]float64{24, 16, 8}},
	{SheetDisagreements, []string{"Document", "Field", "Source", "Value", "Confidence", "Chosen"},
		[]float64{24, 40, 14, 40, 12, 8}},
}

// Workbook builds a workbook with one row per document, fused field,
// contributing source and disagreeing candidate. Fields are sorted by name
// within each document.
func Workbook(items []extract.BatchItem) (*excelize.File, error) {
	f := excelize.NewFile()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(s.name, "A1", &s.headers); err != nil {
			return nil, err
		}
		for c, w := range s.widths {
			col, _ := excelize.ColumnNumberToName(c + 1)
			_ = f.SetColWidth(s.name, col, col, w)
		}
	}

	rows := map[string]int{}
	for _, s := range sheets {
		rows[s.name] = 2
	}
	write := func(sheet string, values ...any) error {
		cell, err := excelize.CoordinatesToCellName(1, rows[sheet])
		if err != nil {
			return err
		}
		rows[sheet]++
		return f.SetSheetRow(sheet, cell, &values)
	}

	for _, it := range items {
		if it.Result == nil {
			if err := write(SheetDocuments, it.Path, it.Path, "", "", 0, "", "", it.Error); err != nil {
				return nil, err
			}
			continue
		}
		res := it.Result
		if err := write(SheetDocuments, res.Document, it.Path, res.RunID, res.DocumentType,
			len(res.Fields), res.Alignment.Quality, res.ElapsedMS, ""); err != nil {
			return nil, err
		}

		for _, name := range sortedKeys(res.Metadata) {
			meta := res.Metadata[name]
			method, page := "", ""
			if pm, ok := res.Positional[name]; ok && res.Fields[name] == meta.Value {
				method, page = string(pm.Method), fmt.Sprint(pm.Page)
			}
			if err := write(SheetFields, res.Document, name, meta.Value, meta.Confidence,
				meta.Source, meta.AgreementCount, method, page); err != nil {
				return nil, err
			}
		}

		for _, sc := range res.Sources {
			if err := write(SheetSources, res.Document, sc.Source, sc.Fields); err != nil {
				return nil, err
			}
		}

		for _, name := range sortedKeys(res.Disagreements) {
			for _, c := range res.Disagreements[name] {
				chosen := ""
				if c.Source == res.Metadata[name].Source && c.Value == res.Metadata[name].Value {
					chosen = "yes"
				}
				if err := write(SheetDisagreements, res.Document, name, c.Source, c.Value, c.Confidence, chosen); err != nil {
					return nil, err
				}
			}
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// WriteXLSX writes the workbook for items to w.
func WriteXLSX(w io.Writer, items []extract.BatchItem) error {
	f, err := Workbook(items)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes the workbook for items to path.
func SaveXLSX(path string, items []extract.BatchItem) error {
	f, err := Workbook(items)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// WriteJSON writes items as an indented JSON array.
func WriteJSON(w io.Writer, items []extract.BatchItem) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if items == nil {
		items = []extract.BatchItem{}
	}
	return enc.Encode(items)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
