// Package sandbox confines file access to a single directory tree.
//
// Guard is a convenience check on path names, not a security boundary:
// symlinks inside the root are followed, and nothing stops other code in the
// process from opening files directly.
package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves paths against a base directory and rejects any that fall
// outside Root.
type Guard struct {
	root string
	base string
}

// New returns a guard for root. Relative paths are resolved against the
// process working directory.
func New(root string) (*Guard, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return NewWithBase(root, cwd)
}

// NewWithBase returns a guard that resolves relative paths against base.
func NewWithBase(root, base string) (*Guard, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base: %w", err)
	}
	return &Guard{root: filepath.Clean(absRoot), base: absBase}, nil
}

// Root returns the directory access is confined to.
func (g *Guard) Root() string {
	return g.root
}

// Resolve returns the absolute, cleaned form of name, or an error wrapping
// fs.ErrPermission if it lies outside the root.
func (g *Guard) Resolve(name string) (string, error) {
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.base, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(g.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return p, nil
}

// Open opens name for reading.
func (g *Guard) Open(name string) (*os.File, error) {
	return g.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile is os.OpenFile restricted to the root.
func (g *Guard) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	p, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(p, flag, perm)
}

// ReadFile reads a whole file under the root.
func (g *Guard) ReadFile(name string) ([]byte, error) {
	p, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// WriteFile writes data to a file under the root, creating parent directories.
func (g *Guard) WriteFile(name string, data []byte) error {
	p, err := g.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

// ReadDir lists a directory under the root.
func (g *Guard) ReadDir(name string) ([]os.DirEntry, error) {
	p, err := g.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(p)
}
