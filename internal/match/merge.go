package match

import (
	"math"
	"sort"
	"strings"

	"github.com/a3tai/mcp-form-atlas/internal/blocks"
)

// mergeRows drops caption blocks and joins the rest in reading order. Blocks
// whose centers are within tolerance of the previous block vertically share
// a row; rows are read left to right and joined top to bottom.
func mergeRows(in []blocks.Block, labels Labeler, tolerance float64) string {
	var values []blocks.Block
	for _, b := range in {
		if t := strings.TrimSpace(b.Text); t != "" && !labels.IsLabel(t) {
			values = append(values, b)
		}
	}
	if len(values) == 0 {
		return ""
	}

	sort.SliceStable(values, func(i, j int) bool {
		ci, cj := values[i].Center(), values[j].Center()
		if ci.Y != cj.Y {
			return ci.Y < cj.Y
		}
		return ci.X < cj.X
	})

	var rows [][]blocks.Block
	row := []blocks.Block{values[0]}
	for _, b := range values[1:] {
		prev := row[len(row)-1]
		if math.Abs(b.Center().Y-prev.Center().Y) < tolerance {
			row = append(row, b)
			continue
		}
		rows = append(rows, row)
		row = []blocks.Block{b}
	}
	rows = append(rows, row)

	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		sort.SliceStable(r, func(i, j int) bool { return r[i].Center().X < r[j].Center().X })
		words := make([]string, len(r))
		for i, b := range r {
			words[i] = strings.TrimSpace(b.Text)
		}
		parts = append(parts, strings.Join(words, " "))
	}
	return strings.Join(parts, " ")
}
