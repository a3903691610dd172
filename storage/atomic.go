package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// syncFile is swapped in tests to interrupt a write after the data reached the temporary file.
var syncFile = func(file *os.File) error {
	return file.Sync()
}

// WriteFileAtomic replaces path with data so that readers observe either the
// previous content or the complete new content, never a partial file.
//
// The data is written to a temporary file in the same directory, fsynced, and
// renamed into place; the parent directory is fsynced afterwards so the rename
// survives power loss. The parent directory must already exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	temporaryPath := file.Name()

	// Write, chmod, sync, close. On any failure the temporary file is removed
	// and the target is left untouched.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("setting permissions on temporary file: %w", err)
	}
	if err := syncFile(file); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// EnsurePrivateDir creates dir with owner-only permissions, tightening an existing directory.
func EnsurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to restrict directory: %w", err)
	}
	return nil
}

// RemoveIfExists removes path. Idempotent: returns nil when the file does not exist.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}
