// Package local stores downloaded artifacts on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes blobs beneath a fixed root directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store rooted there.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// PutObject writes data under the given relative name and returns the
// absolute path of the stored file. Names that escape the root are rejected.
func (s *Store) PutObject(ctx context.Context, name string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("local storage: create directory: %w", err)
	}

	// Write to a temp file first so readers never observe partial blobs.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return "", fmt.Errorf("local storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("local storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("local storage: close: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("local storage: rename: %w", err)
	}
	return target, nil
}

// resolve joins name under the root and rejects traversal outside it.
func (s *Store) resolve(name string) (string, error) {
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", fmt.Errorf("local storage: empty object name")
	}
	target := filepath.Join(s.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage: object name %q escapes root", name)
	}
	return target, nil
}
