// Package security confines file access to configured root directories.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside every root.
var ErrOutsideRoot = errors.New("path is outside the configured directories")

// PathValidator checks that file paths stay within a set of root
// directories, following symlinks.
type PathValidator struct {
	roots []string
}

// NewPathValidator creates a validator for roots. The first root anchors
// relative paths.
func NewPathValidator(roots ...string) (*PathValidator, error) {
	var clean []string
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve directory %s: %w", r, err)
		}
		clean = append(clean, filepath.Clean(abs))
	}
	if len(clean) == 0 {
		return nil, errors.New("at least one configured directory is required")
	}
	return &PathValidator{roots: clean}, nil
}

// Roots returns the absolute root directories.
func (v *PathValidator) Roots() []string {
	return append([]string(nil), v.roots...)
}

// Resolve returns the absolute, cleaned form of path. Relative paths are
// joined to the first root. Null bytes are stripped.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.roots[0], path)
	}
	abs := filepath.Clean(path)
	if !v.Within(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// ResolveFile resolves path and checks it names a regular file no larger
// than maxSize bytes. maxSize <= 0 disables the size check.
func (v *PathValidator) ResolveFile(path string, maxSize int64) (string, error) {
	abs, err := v.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", abs)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return "", fmt.Errorf("file %s is %d bytes, larger than the %d byte limit", abs, info.Size(), maxSize)
	}
	return abs, nil
}

// Within reports whether the absolute path lies inside a root, both
// lexically and after resolving symlinks.
func (v *PathValidator) Within(path string) bool {
	clean := filepath.Clean(path)
	real := clean
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		real = resolved
	}
	for _, root := range v.roots {
		realRoot := root
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			realRoot = resolved
		}
		lexical := under(clean, root) || under(clean, realRoot)
		physical := under(real, root) || under(real, realRoot)
		if lexical && physical {
			return true
		}
	}
	return false
}

func under(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}
