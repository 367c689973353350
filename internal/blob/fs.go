package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"storyreel/internal/fileutil"
)

// FS stores objects as files under a root directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("blob fs: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob fs: create root: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes r atomically under key.
func (s *FS) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	target, err := s.path(key)
	if err != nil {
		return 0, err
	}
	return fileutil.WriteAtomic(target, r, 0o644)
}

// PutFile copies a local file under key, verifying the copy.
func (s *FS) PutFile(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	return fileutil.CopyFileVerified(localPath, target)
}

// Fetch copies the object at key to localPath.
func (s *FS) Fetch(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source, err := s.path(key)
	if err != nil {
		return err
	}
	if err := fileutil.CopyFile(source, localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	return nil
}

// Open streams the object at key.
func (s *FS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(source)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// DeletePrefix removes the directory or file named by prefix.
func (s *FS) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("blob fs: delete %s: %w", prefix, err)
	}
	return nil
}

// Location returns the on-disk path for key.
func (s *FS) Location(key string) string {
	p, err := s.path(key)
	if err != nil {
		return key
	}
	return p
}
