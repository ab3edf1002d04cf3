package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"careline/internal/infrastructure/storage/port"
)

// FSStorage satisfies port.ObjectStorage on a local directory served under a
// public base URL. It stands in for a hosted object store behind the same port.
type FSStorage struct {
	root    string
	baseURL string
}

// NewFSStorage creates the root directory if needed.
func NewFSStorage(root, baseURL string) (*FSStorage, error) {
	if root == "" {
		return nil, errors.New("storage: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FSStorage{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Ensure interface compliance at compile time
var _ port.ObjectStorage = (*FSStorage)(nil)

func (s *FSStorage) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := s.cleanPath(path)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", clean, err)
	}
	_ = contentType // recorded in attachment metadata, not by the blob store
	return s.baseURL + "/" + clean, nil
}

// cleanPath rejects traversal outside the root.
func (s *FSStorage) cleanPath(path string) (string, error) {
	clean := strings.TrimLeft(filepath.ToSlash(filepath.Clean("/"+path)), "/")
	if clean == "" || clean == "." {
		return "", errors.New("storage: empty object path")
	}
	return clean, nil
}
