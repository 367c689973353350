// Package blob stores clip, audio and final artifact bytes behind stable
// keys. The ledger holds keys only.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"storyreel/internal/config"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store.
type Store interface {
	// Put stores r under key and returns the byte count.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// PutFile stores the contents of a local file under key.
	PutFile(ctx context.Context, key, localPath string) error
	// Fetch copies the object at key to a local path.
	Fetch(ctx context.Context, key, localPath string) error
	// Open streams the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Location renders key as a path or URL for operators.
	Location(key string) string
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobBackendFS, "":
		return NewFS(cfg.Paths.BlobDir)
	case config.BlobBackendS3:
		return NewS3(ctx, cfg.Blob)
	default:
		return nil, fmt.Errorf("open blob store: unsupported backend %q", cfg.Blob.Backend)
	}
}

// JobPrefix is the key prefix holding everything produced for a job.
func JobPrefix(jobID string) string {
	return path.Join("jobs", jobID) + "/"
}

// ClipKey names the materialized clip for one pair.
func ClipKey(jobID string, index int, ext string) string {
	return path.Join("jobs", jobID, "clips", fmt.Sprintf("%04d%s", index, normalizeExt(ext, ".mp4")))
}

// CombinedKey names the concatenated silent video.
func CombinedKey(jobID string) string {
	return path.Join("jobs", jobID, "combined.mp4")
}

// AudioKey names the composed audio track.
func AudioKey(jobID, ext string) string {
	return path.Join("jobs", jobID, "audio"+normalizeExt(ext, ".m4a"))
}

// FinalKey names the delivered artifact.
func FinalKey(jobID string) string {
	return path.Join("jobs", jobID, "final.mp4")
}

func normalizeExt(ext, fallback string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return fallback
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty blob key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return cleaned, nil
}
