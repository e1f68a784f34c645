package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriterCommit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "session.mp3")

	w, err := NewAtomicWriter(target)
	if err != nil {
		t.Fatalf("NewAtomicWriter() error = %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w.Written() != 5 {
		t.Errorf("Written() = %d, want 5", w.Written())
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("target exists before commit: %v", err)
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("target content = %q, want %q", data, "hello")
	}
	if _, err := os.Stat(w.TempPath()); !os.IsNotExist(err) {
		t.Errorf("temp file still exists after commit")
	}
}

func TestAtomicWriterAbort(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "session.mp3")

	w, err := NewAtomicWriter(target)
	if err != nil {
		t.Fatalf("NewAtomicWriter() error = %v", err)
	}
	w.Write([]byte("partial"))

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("directory not empty after abort: %v", entries)
	}
}

func TestAtomicWriterMissingDir(t *testing.T) {
	_, err := NewAtomicWriter(filepath.Join(t.TempDir(), "missing", "file"))
	if err == nil {
		t.Error("expected error for missing parent directory")
	}
}

func TestWriteFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "token.txt")

	if err := WriteFile(target, []byte("bearer abc"), 0700, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	if err := WriteFile(target, []byte("bearer xyz"), 0700, 0600); err != nil {
		t.Fatalf("second WriteFile() error = %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "bearer xyz" {
		t.Errorf("content = %q, want %q", data, "bearer xyz")
	}
}
