// Package local keeps run artifacts on the local filesystem: an append-only
// journal of records per run and a blob store for exported files.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes exported artifacts under a base directory.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates the base directory if needed and checks it is writable.
func NewBlobStore(baseDir string) (*BlobStore, error) {
	if err := ensureWritableDir(baseDir); err != nil {
		return nil, err
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// PutObject writes data to path below the base directory and returns a
// file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "file://" + full, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, path))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	return full, nil
}

func ensureWritableDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("base directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", dir)
	}
	marker := filepath.Join(dir, ".writable")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("clean up marker file: %w", err)
	}
	return nil
}
