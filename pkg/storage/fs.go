package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores blobs under a root directory on the local filesystem.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed blob store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put writes data at key, creating parent directories as needed.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

// Get reads the blob at key.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}
