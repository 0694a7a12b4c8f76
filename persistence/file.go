package persistence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SaveToFile writes a snapshot to filename atomically: content goes to a
// temp file in the same directory, is fsynced, and is then renamed over the
// target. A crash mid-save never leaves a partially written snapshot behind.
func SaveToFile(filename string, write func(w io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("persistence: failed to create temp file for %s: %w", base, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Cleanup on any failure path; no-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("persistence: failed to write %s: %w", base, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("persistence: failed to sync %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: failed to close %s: %w", base, err)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("persistence: failed to rename %s: %w", filename, err)
	}

	// Best-effort: fsync directory so the rename itself is durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// LoadFromFile opens filename and passes it to read.
func LoadFromFile(filename string, read func(r io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("persistence: failed to open %s: %w", filename, err)
	}
	defer f.Close()

	return read(f)
}
