package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LocalStorage persists submission files on disk under a base directory.
// References handed out are paths relative to that directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Put stores the given bytes under a generated reference and returns it.
func (s *LocalStorage) Put(originalName string, data []byte) (string, error) {
	ref := filepath.Join("predaje", fmt.Sprintf("%s_%s%s",
		time.Now().UTC().Format("20060102"), uuid.NewString(), filepath.Ext(originalName)))
	path := s.resolve(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare uploads directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return ref, nil
}

// Exists reports whether the referenced blob is present on disk.
func (s *LocalStorage) Exists(ref string) bool {
	info, err := os.Stat(s.resolve(ref))
	return err == nil && !info.IsDir()
}

// Open returns a read-only handle for the referenced blob.
func (s *LocalStorage) Open(ref string) (*os.File, error) {
	file, err := os.Open(s.resolve(ref))
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(ref string) error {
	if err := os.Remove(s.resolve(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}

// Path exposes the absolute on-disk location of a reference.
func (s *LocalStorage) Path(ref string) string {
	return s.resolve(ref)
}

func (s *LocalStorage) resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(s.baseDir, ref)
}
