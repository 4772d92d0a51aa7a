package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// LoadFile reads a JSON block file. See Decode for the accepted layouts.
func LoadFile(path string) (Pages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block file: %w", err)
	}
	pages, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pages, nil
}

// Decode parses block data in one of three layouts:
//
//	[{"text": "...", "page": 0, "x": 1, "y": 2}, ...]
//	{"pages": [[...], [...]]}
//	{"pages": {"0": [...], "2": [...]}}
//
// In the nested layouts the page comes from the position in the document
// and any per-block page is ignored.
func Decode(data []byte) (Pages, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var flat []Block
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return nil, fmt.Errorf("failed to decode blocks: %w", err)
		}
		return Group(flat), nil
	}

	var doc struct {
		Pages json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode blocks: %w", err)
	}
	raw := bytes.TrimSpace(doc.Pages)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var list [][]Block
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to decode pages: %w", err)
		}
		pages := make(Pages, len(list))
		for i, page := range list {
			pages[i] = withPage(page, i)
		}
		return pages, nil
	}

	var byKey map[string][]Block
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	keys := make([]int, 0, len(byKey))
	index := make(map[int]string, len(byKey))
	for k := range byKey {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page key %q", k)
		}
		keys = append(keys, n)
		index[n] = k
	}
	sort.Ints(keys)

	var pages Pages
	for _, n := range keys {
		for len(pages) <= n {
			pages = append(pages, nil)
		}
		pages[n] = withPage(byKey[index[n]], n)
	}
	return pages, nil
}

func withPage(page []Block, n int) []Block {
	for i := range page {
		page[i].Page = n
	}
	return page
}
