// Package fs implements ObjectStorage on a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
	storagetypes "github.com/beladevo/libreoffice-docx-to-pdf/storage/types"
)

// Store keeps objects as files below a root directory.
// Writes go to a temporary file in the target directory and are renamed
// into place, so readers never observe a partial object.
type Store struct {
	root   string
	logger types.Logger
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string, logger types.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("fs storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes body to root/key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, metadata storagetypes.ObjectMetadata) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("commit object %s: %w", key, err)
	}

	s.logger.Debug(ctx, "Object stored", types.Fields{
		"key":          key,
		"size_bytes":   n,
		"content_type": metadata.ContentType,
	})
	return nil
}

// Exists reports whether root/key is a regular file.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// resolve maps key to a path that is guaranteed to stay below root.
func (s *Store) resolve(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", storagetypes.ErrInvalidKey
	}
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" {
		return "", storagetypes.ErrInvalidKey
	}
	target := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", storagetypes.ErrInvalidKey
	}
	return target, nil
}
