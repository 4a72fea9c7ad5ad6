package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xraph/loom"
)

// Compile-time interface check.
var _ Store = (*FS)(nil)

// FS is a Store that keeps each object in a file under a root directory.
// Keys map to relative paths; path traversal outside the root is rejected.
type FS struct {
	root string
}

// NewFS creates a filesystem-backed blob store rooted at dir. The directory
// is created if it does not exist.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("loom/blob: empty root directory")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("loom/blob: resolve root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("loom/blob: create root: %w", err)
	}

	return &FS{root: abs}, nil
}

// path maps a key to an absolute file path, rejecting escapes from root.
func (f *FS) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("loom/blob: empty key")
	}

	p := filepath.Join(f.root, filepath.FromSlash(key))
	if p != f.root && !strings.HasPrefix(p, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("loom/blob: key %q escapes store root", key)
	}

	return p, nil
}

// Put stores data in the file mapped from key.
func (f *FS) Put(_ context.Context, key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("loom/blob: create key directory: %w", err)
	}

	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("loom/blob: write %q: %w", key, err)
	}

	return nil
}

// Get reads the file mapped from key.
func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, loom.ErrBlobNotFound
		}

		return nil, fmt.Errorf("loom/blob: read %q: %w", key, err)
	}

	return data, nil
}

// Delete removes the file mapped from key, if it exists.
func (f *FS) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loom/blob: delete %q: %w", key, err)
	}

	return nil
}

// Exists reports whether a file exists for key.
func (f *FS) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("loom/blob: stat %q: %w", key, err)
	}

	return true, nil
}
