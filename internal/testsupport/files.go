package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a stand-in media file of size bytes (at least one),
// creating parent directories as needed.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	content := bytes.Repeat([]byte("mf"), int(max(size, 1)+1)/2)
	if err := os.WriteFile(path, content[:max(size, 1)], 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func Stat(t testing.TB, path string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info
}
