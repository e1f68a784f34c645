// Package storage provides crash-safe file writes and cross-process locks.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter writes into a temporary file next to the target and only
// renames it into place on Commit. A reader never sees a partially-written
// target, and an aborted write leaves nothing behind.
type AtomicWriter struct {
	path    string
	tmpPath string
	file    *os.File
	written int64
}

// NewAtomicWriter creates a writer for the file at path. The parent directory
// must already exist.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &AtomicWriter{
		path:    path,
		tmpPath: tmpFile.Name(),
		file:    tmpFile,
	}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (n int, err error) {
	n, err = w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Written reports the number of bytes written so far.
func (w *AtomicWriter) Written() int64 {
	return w.written
}

// TempPath returns the path of the temporary file.
func (w *AtomicWriter) TempPath() string {
	return w.tmpPath
}

// Commit atomically replaces the target file with the temporary file.
// This syncs the file to disk before renaming to ensure durability.
func (w *AtomicWriter) Commit() error {
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath) // Best effort cleanup
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temporary file without committing.
func (w *AtomicWriter) Abort() error {
	w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFile atomically replaces path with data, creating parent directories
// with dirPerm and the file with perm.
func WriteFile(path string, data []byte, dirPerm, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	w, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return fmt.Errorf("write: %w", err)
	}
	if err := w.file.Chmod(perm); err != nil {
		w.Abort()
		return fmt.Errorf("chmod: %w", err)
	}
	return w.Commit()
}
