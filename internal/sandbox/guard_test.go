package sandbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func setupGuard(t *testing.T) (*Guard, string, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "uploads")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "reads.fastq"), []byte("@r1\nACGT\n"), 0644)
	os.WriteFile(filepath.Join(base, "secret.env"), []byte("KEY=1"), 0644)

	g, err := NewWithBase(root, base)
	if err != nil {
		t.Fatal(err)
	}
	return g, root, base
}

func TestGuard_InsideRoot(t *testing.T) {
	g, root, _ := setupGuard(t)

	data, err := g.ReadFile(filepath.Join(root, "reads.fastq"))
	if err != nil {
		t.Fatalf("absolute path inside root: %v", err)
	}
	if string(data) != "@r1\nACGT\n" {
		t.Errorf("unexpected content %q", data)
	}

	// Relative paths resolve against the base directory.
	f, err := g.Open("uploads/reads.fastq")
	if err != nil {
		t.Fatalf("relative path inside root: %v", err)
	}
	f.Close()
}

func TestGuard_OutsideRoot(t *testing.T) {
	g, root, base := setupGuard(t)

	cases := []string{
		filepath.Join(base, "secret.env"),
		"secret.env",
		filepath.Join(root, "..", "secret.env"),
		"uploads/../secret.env",
		"/etc/passwd",
	}
	for _, name := range cases {
		_, err := g.Open(name)
		if !errors.Is(err, fs.ErrPermission) {
			t.Errorf("Open(%q): expected permission error, got %v", name, err)
		}
	}

	if err := g.WriteFile("../escape.txt", []byte("x")); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("WriteFile outside root: expected permission error, got %v", err)
	}
}

func TestGuard_RootItself(t *testing.T) {
	g, root, _ := setupGuard(t)

	f, err := g.Open(root)
	if err != nil {
		t.Fatalf("opening root: %v", err)
	}
	f.Close()

	entries, err := g.ReadDir("uploads")
	if err != nil {
		t.Fatalf("listing root: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestGuard_SiblingPrefix(t *testing.T) {
	g, _, base := setupGuard(t)
	os.MkdirAll(filepath.Join(base, "uploads-old"), 0755)

	if _, err := g.Resolve(filepath.Join(base, "uploads-old", "x")); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("sibling directory sharing a prefix must be rejected, got %v", err)
	}
}
