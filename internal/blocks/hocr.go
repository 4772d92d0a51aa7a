package blocks

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Granularity selects which hOCR elements become blocks.
type Granularity string

const (
	Words Granularity = "word"
	Lines Granularity = "line"
)

var lineClasses = []string{"ocr_line", "ocrx_line", "ocr_caption", "ocr_header", "ocr_textfloat"}

// HOCROptions controls hOCR conversion.
type HOCROptions struct {
	Granularity Granularity
	// Scale converts scan pixels to atlas pixels (atlas DPI / scan DPI).
	Scale float64
}

// LoadHOCR reads an hOCR file.
func LoadHOCR(path string, opts HOCROptions) (Pages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hOCR file: %w", err)
	}
	pages, err := ParseHOCR(bytes.NewReader(data), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pages, nil
}

// ParseHOCR converts hOCR markup into blocks. Every ocr_page element starts a
// new page; word confidences (x_wconf, 0-100) become 0..1.
func ParseHOCR(r io.Reader, opts HOCROptions) (Pages, error) {
	if opts.Granularity == "" {
		opts.Granularity = Words
	}

	utf8Reader, err := charset.NewReader(r, "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to detect hOCR charset: %w", err)
	}
	doc, err := html.Parse(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hOCR: %w", err)
	}

	var pages Pages
	page := -1

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			class := attr(n, "class")
			switch {
			case hasClass(class, "ocr_page"):
				page++
				pages = append(pages, nil)
			case page >= 0 && opts.Granularity == Words && hasClass(class, "ocrx_word"):
				if b, ok := hocrBlock(n, page, textContent(n)); ok {
					pages[page] = append(pages[page], b)
				}
				return
			case page >= 0 && opts.Granularity == Lines && hasAnyClass(class, lineClasses):
				if b, ok := hocrBlock(n, page, lineText(n)); ok {
					pages[page] = append(pages[page], b)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if page < 0 {
		return nil, fmt.Errorf("no ocr_page elements found in hOCR data")
	}
	if opts.Scale > 0 {
		pages = pages.Scale(opts.Scale)
	}
	return pages, nil
}

func hocrBlock(n *html.Node, page int, text string) (Block, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return Block{}, false
	}
	props := parseTitle(attr(n, "title"))
	bbox, ok := props["bbox"]
	if !ok || len(bbox) != 4 {
		return Block{}, false
	}

	var c [4]float64
	for i, s := range bbox {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Block{}, false
		}
		c[i] = v
	}
	b := NewRect(text, page, c[0], c[1], c[2], c[3])

	if conf, ok := props["x_wconf"]; ok && len(conf) == 1 {
		if v, err := strconv.ParseFloat(conf[0], 64); err == nil {
			b = b.WithConfidence(v / 100)
		}
	}
	return b, true
}

// parseTitle splits an hOCR title ("bbox 1 2 3 4; x_wconf 91") into
// property name -> arguments.
func parseTitle(title string) map[string][]string {
	props := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		props[fields[0]] = fields[1:]
	}
	return props
}

// lineText joins the words of a line, falling back to its raw text.
func lineText(n *html.Node) string {
	var words []string
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && hasClass(attr(c, "class"), "ocrx_word") {
			if w := strings.TrimSpace(textContent(c)); w != "" {
				words = append(words, w)
			}
			return
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	if len(words) == 0 {
		return textContent(n)
	}
	return strings.Join(words, " ")
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(class, want string) bool {
	for _, c := range strings.Fields(class) {
		if c == want {
			return true
		}
	}
	return false
}

func hasAnyClass(class string, wants []string) bool {
	for _, w := range wants {
		if hasClass(class, w) {
			return true
		}
	}
	return false
}
