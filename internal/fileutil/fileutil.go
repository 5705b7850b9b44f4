// Package fileutil holds the file-replacement helpers artifact writers use so
// a reader never observes a half-written artifact.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempSibling returns a fresh path next to dst that keeps dst's extension,
// since ffmpeg picks the output muxer from it. The file itself is not created.
func TempSibling(dst string) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	ext := filepath.Ext(dst)
	base := strings.TrimSuffix(filepath.Base(dst), ext)
	f, err := os.CreateTemp(dir, "."+base+".*.tmp"+ext)
	if err != nil {
		return "", fmt.Errorf("reserve temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// TempDirSibling creates a temporary directory next to dst.
func TempDirSibling(dst string) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	return os.MkdirTemp(dir, "."+filepath.Base(dst)+".*.tmp")
}

// CommitFile atomically replaces dst with tmp. tmp must live on the same
// filesystem, which TempSibling guarantees. An empty tmp is rejected so a
// tool that exited zero without writing does not replace a good artifact.
func CommitFile(tmp, dst string) error {
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("stat rendered file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("rendered file %s is empty", filepath.Base(dst))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("replace %s: %w", dst, err)
	}
	return syncDir(filepath.Dir(dst))
}

// CommitDir replaces the directory dst with tmpDir. The previous directory is
// moved aside first and removed once the new one is in place.
func CommitDir(tmpDir, dst string) error {
	backup := ""
	if _, err := os.Stat(dst); err == nil {
		backup = dst + ".old"
		_ = os.RemoveAll(backup)
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous %s aside: %w", dst, err)
		}
	}
	if err := os.Rename(tmpDir, dst); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("replace %s: %w", dst, err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return syncDir(filepath.Dir(dst))
}

// Discard removes a temp file or directory left by a failed render.
func Discard(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	_ = os.RemoveAll(path)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
