package extract

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-form-atlas/internal/atlas"
	"github.com/a3tai/mcp-form-atlas/internal/blocks"
)

const testDocType = "test_application"

func testAtlas() *atlas.Atlas {
	return &atlas.Atlas{
		DocumentType: testDocType,
		DPI:          300,
		Fields: []atlas.Field{
			{Name: "Name", XMin: 200, YMin: 100, XMax: 500, YMax: 140, Kind: atlas.KindText, Labels: []string{"Name"}},
			{Name: "Phone", XMin: 200, YMin: 200, XMax: 500, YMax: 240, Kind: atlas.KindText, Labels: []string{"Phone"}},
			{Name: "Agree", XMin: 50, YMin: 300, XMax: 100, YMax: 350, Kind: atlas.KindCheckbox},
			{Name: "Decline", XMin: 50, YMin: 400, XMax: 100, YMax: 450, Kind: atlas.KindCheckbox},
		},
		Anchors: []atlas.Anchor{
			{Text: "APPLICANT INFORMATION", X: 110, Y: 50},
			{Text: "SIGNATURE", X: 100, Y: 900},
		},
	}
}

// scannedBlocks is the OCR of a scan shifted by (10, 5) from the atlas.
func scannedBlocks() blocks.Pages {
	return blocks.Pages{{
		blocks.NewRect("APPLICANT INFORMATION", 0, 60, 40, 180, 70),
		blocks.NewRect("SIGNATURE", 0, 80, 890, 140, 920),
		blocks.NewRect("Name:", 0, 150, 115, 195, 135),
		blocks.NewRect("Jane Doe", 0, 260, 115, 340, 135),
		blocks.NewRect("Phone:", 0, 150, 215, 195, 235),
		blocks.NewRect("555-0100", 0, 260, 215, 340, 235),
	}}
}

// writeScanImage renders page 0 with Agree marked and Decline blank, both
// shifted by (10, 5).
func writeScanImage(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 600, 1000))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 310; y < 350; y++ {
		for x := 65; x < 105; x++ {
			img.Pix[y*img.Stride+x] = 0
		}
	}
	path := filepath.Join(dir, "page-0.png")
	require.NoError(t, imaging.Save(img, path))
	return path
}

type fixture struct {
	dir      string
	atlasDir string
	manifest string
}

// writeFixture lays out an atlas directory and a document directory with a
// YAML manifest using relative paths.
func writeFixture(t *testing.T, extra string) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		dir:      filepath.Join(root, "docs"),
		atlasDir: filepath.Join(root, "atlases"),
	}
	require.NoError(t, os.MkdirAll(f.dir, 0o755))
	require.NoError(t, os.MkdirAll(f.atlasDir, 0o755))
	require.NoError(t, atlas.WriteFile(testAtlas(), filepath.Join(f.atlasDir, testDocType+".json")))

	data, err := json.Marshal(map[string]any{"pages": scannedBlocks()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "blocks.json"), data, 0o644))
	writeScanImage(t, f.dir)

	manifest := "id: app-0001\n" +
		"document_type: " + testDocType + "\n" +
		"blocks: blocks.json\n" +
		"images:\n  - page-0.png\n" + extra
	f.manifest = filepath.Join(f.dir, "app-0001.yaml")
	require.NoError(t, os.WriteFile(f.manifest, []byte(manifest), 0o644))
	return f
}

func (f fixture) registry(t *testing.T) *atlas.Registry {
	t.Helper()
	r := atlas.NewRegistry(atlas.RegistryConfig{Dir: f.atlasDir}, nil)
	t.Cleanup(r.Close)
	return r
}

func (f fixture) service(t *testing.T, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := DefaultOptions()
	opts.ServerName = "mcp-form-atlas"
	opts.Version = "test"
	opts.Registry = f.registry(t)
	for _, m := range mutate {
		m(&opts)
	}
	return NewService(opts)
}
