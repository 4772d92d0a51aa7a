package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewPathValidator(t *testing.T) {
	if _, err := NewPathValidator(); err == nil {
		t.Error("Expected error for no directories")
	}
	if _, err := NewPathValidator("", ""); err == nil {
		t.Error("Expected error for empty directories")
	}

	v, err := NewPathValidator("relative/docs", "", "/tmp/atlases/../atlases")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	roots := v.Roots()
	if len(roots) != 2 {
		t.Fatalf("Expected 2 roots, got %v", roots)
	}
	if !filepath.IsAbs(roots[0]) || roots[1] != "/tmp/atlases" {
		t.Errorf("Roots not normalized: %v", roots)
	}
}

func TestPathValidator_Resolve(t *testing.T) {
	docs := t.TempDir()
	atlases := t.TempDir()
	outside := t.TempDir()
	v, err := NewPathValidator(docs, atlases)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		outside bool
		wantErr bool
	}{
		{name: "relative to first root", path: "scan/blocks.json", want: filepath.Join(docs, "scan", "blocks.json")},
		{name: "absolute in second root", path: filepath.Join(atlases, "acord_125.yaml"), want: filepath.Join(atlases, "acord_125.yaml")},
		{name: "root itself", path: docs, want: docs},
		{name: "dot segments", path: "a/../b.json", want: filepath.Join(docs, "b.json")},
		{name: "escape with dot dot", path: "../../etc/passwd", outside: true, wantErr: true},
		{name: "other directory", path: filepath.Join(outside, "x.json"), outside: true, wantErr: true},
		{name: "sibling prefix", path: docs + "-evil/x.json", outside: true, wantErr: true},
		{name: "empty", path: "", wantErr: true},
		{name: "null bytes only", path: "\x00", wantErr: true},
		{name: "null bytes stripped", path: "a\x00.json", want: filepath.Join(docs, "a.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) expected error, got %s", tt.path, got)
				}
				if tt.outside && !errors.Is(err, ErrOutsideRoot) {
					t.Errorf("Resolve(%q) error = %v, want ErrOutsideRoot", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathValidator_Symlinks(t *testing.T) {
	docs := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.json")
	if err := os.WriteFile(secret, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(docs, "link.json")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	v, _ := NewPathValidator(docs)
	if _, err := v.Resolve(link); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Resolve(symlink) error = %v, want ErrOutsideRoot", err)
	}
}

func TestPathValidator_ResolveFile(t *testing.T) {
	docs := t.TempDir()
	file := filepath.Join(docs, "blocks.json")
	if err := os.WriteFile(file, []byte(strings.Repeat("x", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	v, _ := NewPathValidator(docs)

	if got, err := v.ResolveFile("blocks.json", 1000); err != nil || got != file {
		t.Errorf("ResolveFile() = %s, %v", got, err)
	}
	if _, err := v.ResolveFile("blocks.json", 0); err != nil {
		t.Errorf("ResolveFile() without limit: %v", err)
	}
	if _, err := v.ResolveFile("blocks.json", 50); err == nil {
		t.Error("Expected size limit error")
	}
	if _, err := v.ResolveFile("missing.json", 0); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := v.ResolveFile(".", 0); err == nil {
		t.Error("Expected error for directory")
	}
}
