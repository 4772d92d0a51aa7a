package blocks

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Phrase grouping thresholds as multiples of the font size.
const (
	lineTolerance = 0.5
	wordGap       = 0.2
	phraseGap     = 1.5
)

// FromPDF reads the text layer of a PDF with ledongthuc/pdf and groups glyph
// runs into phrase blocks in top-left origin pixels at dpi.
func FromPDF(path string, dpi float64) (Pages, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pages := make(Pages, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		texts, err := pageTexts(page)
		if err != nil {
			// A broken content stream on one page leaves that page empty.
			continue
		}
		llx, top := pageOrigin(page)
		pages[i-1] = groupRuns(texts, i-1, llx, top, dpi/72.0)
	}
	return pages, nil
}

func pageTexts(page pdf.Page) (texts []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content stream: %v", r)
		}
	}()
	return page.Content().Text, nil
}

// pageOrigin returns the MediaBox left edge and top edge, walking up the page
// tree for inherited boxes and defaulting to US Letter.
func pageOrigin(page pdf.Page) (llx, top float64) {
	v := page.V
	for i := 0; i < 10 && !v.IsNull(); i++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			return box.Index(0).Float64(), box.Index(3).Float64()
		}
		v = v.Key("Parent")
	}
	return 0, 792
}

type run struct {
	x, y, w, size float64
	s             string
	order         int
}

func groupRuns(texts []pdf.Text, page int, llx, top, scale float64) []Block {
	runs := make([]run, 0, len(texts))
	for i, t := range texts {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		runs = append(runs, run{x: t.X, y: t.Y, w: t.W, size: size, s: t.S, order: i})
	}

	// Top to bottom, then left to right, content order breaking ties.
	sort.SliceStable(runs, func(i, j int) bool {
		if math.Abs(runs[i].y-runs[j].y) > 0.01 {
			return runs[i].y > runs[j].y
		}
		if runs[i].x != runs[j].x {
			return runs[i].x < runs[j].x
		}
		return runs[i].order < runs[j].order
	})

	var lines [][]run
	for _, r := range runs {
		if n := len(lines); n > 0 {
			last := lines[n-1]
			if math.Abs(last[0].y-r.y) <= last[0].size*lineTolerance {
				lines[n-1] = append(last, r)
				continue
			}
		}
		lines = append(lines, []run{r})
	}

	var out []Block
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].x < line[j].x })

		var (
			sb      strings.Builder
			started bool
			x0, x1  float64
			yTop    float64
			yBottom float64
			space   bool
		)
		flush := func() {
			text := strings.TrimSpace(sb.String())
			if started && text != "" {
				out = append(out, NewRect(text, page,
					(x0-llx)*scale, (top-yTop)*scale,
					(x1-llx)*scale, (top-yBottom)*scale))
			}
			sb.Reset()
			started = false
			space = false
		}

		for _, r := range line {
			if strings.TrimSpace(r.s) == "" {
				space = true
				continue
			}
			if started {
				gap := r.x - x1
				if gap > r.size*phraseGap {
					flush()
				} else if space || gap > r.size*wordGap {
					sb.WriteByte(' ')
				}
			}
			if !started {
				started = true
				x0, x1 = r.x, r.x+r.w
				yTop, yBottom = r.y+r.size, r.y-r.size*0.2
			}
			sb.WriteString(r.s)
			space = false
			x1 = max(x1, r.x+r.w)
			yTop = max(yTop, r.y+r.size)
			yBottom = min(yBottom, r.y-r.size*0.2)
		}
		flush()
	}
	return out
}
