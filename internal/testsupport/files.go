package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and its parents) holding size filler bytes. It
// stands in for uploaded source videos where only presence and size matter.
func WriteFile(t testing.TB, path string, size int) {
	t.Helper()
	if size < 1 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{'v'}, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
