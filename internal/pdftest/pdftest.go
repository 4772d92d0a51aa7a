// Package pdftest writes small, well-formed PDF files for tests. Pages carry
// Courier text runs and optional AcroForm widgets so both the text layer and
// the form dictionary can be exercised without binary fixtures.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Text is one text run drawn with Tj at baseline (X, Y) in PDF points.
type Text struct {
	X, Y float64
	Size float64
	S    string
}

// Widget is a terminal AcroForm field merged with its widget annotation.
type Widget struct {
	Name  string
	FT    string // Tx, Btn, Ch
	Value string // raw PDF token, e.g. "(ACME)" or "/Yes"; empty for none
	Flags int
	Rect  [4]float64 // llx lly urx ury
}

// Page is one page of the generated document.
type Page struct {
	Width, Height float64
	Texts         []Text
	Widgets       []Widget
}

// Write renders pages into dir/name and returns the path.
func Write(t testing.TB, dir, name string, pages ...Page) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(pages...), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

// Build renders pages into PDF bytes with a valid cross-reference table.
func Build(pages ...Page) []byte {
	// Fixed objects: 1 catalog, 2 pages tree, 3 font, 4 acroform.
	const firstPageObj = 5
	var objs []string
	next := firstPageObj

	type pageRefs struct {
		page, content int
		widgets       []int
	}
	refs := make([]pageRefs, len(pages))
	for i, p := range pages {
		refs[i].page = next
		refs[i].content = next + 1
		next += 2
		for range p.Widgets {
			refs[i].widgets = append(refs[i].widgets, next)
			next++
		}
	}

	objs = make([]string, next)
	var kids, fields []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", refs[i].page))
		for _, w := range refs[i].widgets {
			fields = append(fields, fmt.Sprintf("%d 0 R", w))
		}
	}

	objs[1] = "<< /Type /Catalog /Pages 2 0 R /AcroForm 4 0 R >>"
	objs[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))
	objs[3] = "<< /Type /Font /Subtype /Type1 /BaseFont /Courier /FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>"
	objs[4] = fmt.Sprintf("<< /Fields [%s] /DA (/Cour 0 Tf 0 g) >>", strings.Join(fields, " "))

	for i, p := range pages {
		w, h := p.Width, p.Height
		if w == 0 {
			w = 612
		}
		if h == 0 {
			h = 792
		}
		var annots []string
		for _, ref := range refs[i].widgets {
			annots = append(annots, fmt.Sprintf("%d 0 R", ref))
		}
		objs[refs[i].page] = fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R /Annots [%s] >>",
			w, h, refs[i].content, strings.Join(annots, " "))

		var content strings.Builder
		for _, tx := range p.Texts {
			size := tx.Size
			if size == 0 {
				size = 10
			}
			fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", size, tx.X, tx.Y, escape(tx.S))
		}
		stream := content.String()
		objs[refs[i].content] = fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream)

		for j, wd := range p.Widgets {
			var b strings.Builder
			fmt.Fprintf(&b, "<< /Type /Annot /Subtype /Widget /FT /%s /T (%s) /Rect [%g %g %g %g] /P %d 0 R /F 4",
				wd.FT, escape(wd.Name), wd.Rect[0], wd.Rect[1], wd.Rect[2], wd.Rect[3], refs[i].page)
			if wd.Flags != 0 {
				fmt.Fprintf(&b, " /Ff %d", wd.Flags)
			}
			if wd.Value != "" {
				fmt.Fprintf(&b, " /V %s", wd.Value)
				if wd.FT == "Btn" {
					fmt.Fprintf(&b, " /AS %s", wd.Value)
				}
			}
			b.WriteString(" >>")
			objs[refs[i].widgets[j]] = b.String()
		}
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for n := 1; n < len(objs); n++ {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, objs[n])
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs))
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n < len(objs); n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs), xref)
	return buf.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
