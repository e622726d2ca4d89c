package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive keeps rendered roster exports on disk so they can be fetched
// again through a signed download link. Filenames are flattened to their
// base name, the archive is a single directory.
type Archive struct {
	dir string
}

// NewArchive ensures the archive directory exists and returns a handle.
func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		dir = "./exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Save writes an export under its base filename and returns that name.
func (a *Archive) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid archive filename %q", filename)
	}
	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write archived export: %w", err)
	}
	return name, nil
}

// Read returns the bytes of a previously archived export.
func (a *Archive) Read(filename string) ([]byte, error) {
	name := filepath.Base(filename)
	data, err := os.ReadFile(filepath.Join(a.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read archived export: %w", err)
	}
	return data, nil
}

// Remove deletes an archived export, missing files are not an error.
func (a *Archive) Remove(filename string) error {
	name := filepath.Base(filename)
	if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archived export: %w", err)
	}
	return nil
}

// Sweep deletes exports older than maxAge and returns the removed names.
func (a *Archive) Sweep(maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	removed := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, err
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}
