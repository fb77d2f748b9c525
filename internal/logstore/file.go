package logstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores the log as a single flat file, opened in append mode for
// every write and closed afterwards so nothing is lost on power cut.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the file at path. The parent directory
// is created if needed; the file itself is created on first append.
func NewFileBackend(path string) (*FileBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrWriteFailure, dir, err)
		}
	}
	return &FileBackend{path: path}, nil
}

// Path returns the log file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Append implements Backend.
func (b *FileBackend) Append(data []byte) error {
	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrWriteFailure, b.path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %v", ErrWriteFailure, b.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWriteFailure, b.path, err)
	}
	return nil
}

// ReadAll implements Backend.
func (b *FileBackend) ReadAll() ([]byte, error) {
	info, err := os.Stat(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", b.path, err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return data, nil
}

// Clear implements Backend.
func (b *FileBackend) Clear() error {
	err := os.Remove(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", b.path, err)
	}
	return nil
}

// Close implements Backend. The file is never held open between calls.
func (b *FileBackend) Close() error {
	return nil
}
