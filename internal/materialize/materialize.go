// Package materialize downloads generated clips, validates them and stores
// them in the blob store.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/blob"
	"storyreel/internal/config"
	"storyreel/internal/fileutil"
	"storyreel/internal/logging"
	"storyreel/internal/media/ffprobe"
	"storyreel/internal/provider"
	"storyreel/internal/services"
)

const headerBytes = 12

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Prober is satisfied by *ffprobe.Prober.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Materializer turns a provider result URL into a stored clip.
type Materializer struct {
	blobs    blob.Store
	client   *http.Client
	prober   Prober
	workDir  string
	minBytes int64
	attempts int
	backoff  provider.Backoff
	logger   *slog.Logger
}

// Option customizes a Materializer.
type Option func(*Materializer)

// WithHTTPClient overrides the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Materializer) {
		if client != nil {
			m.client = client
		}
	}
}

// WithProber enables the ffprobe video stream check.
func WithProber(prober Prober) Option {
	return func(m *Materializer) {
		m.prober = prober
	}
}

// WithBackoff overrides the delay between download attempts.
func WithBackoff(b provider.Backoff) Option {
	return func(m *Materializer) {
		m.backoff = b
	}
}

// New builds a Materializer. Clips are staged under workDir before upload.
func New(cfg config.Materialize, workDir string, blobs blob.Store, logger *slog.Logger, opts ...Option) *Materializer {
	timeout := cfg.DownloadTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	attempts := cfg.DownloadAttempts
	if attempts <= 0 {
		attempts = 1
	}
	m := &Materializer{
		blobs:    blobs,
		client:   &http.Client{Timeout: timeout},
		workDir:  workDir,
		minBytes: cfg.MinClipBytes,
		attempts: attempts,
		backoff:  provider.Backoff{Base: time.Second, Max: 10 * time.Second},
		logger:   logging.NewComponentLogger(logger, "materialize"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize downloads resultURI, validates it and stores it under the
// clip key for index. It returns the blob key. Every failure is an
// ErrDownload once the bounded attempts are spent.
func (m *Materializer) Materialize(ctx context.Context, jobID string, index int, resultURI string) (string, error) {
	logger := logging.WithContext(ctx, m.logger)
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		key, err := m.once(ctx, jobID, index, resultURI)
		if err == nil {
			return key, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		if attempt == m.attempts {
			break
		}
		logger.Info("clip download retry",
			logging.Args(append(logging.DecisionAttrs("download_retry", "retry", err.Error()),
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", m.attempts),
			)...)...)
		if err := m.backoff.Wait(ctx, m.backoff.Delay(attempt)); err != nil {
			return "", err
		}
	}
	return "", services.Wrap(services.ErrDownload, "materialize", "clip",
		fmt.Sprintf("pair %d failed after %d attempt(s)", index, m.attempts), lastErr)
}

func (m *Materializer) once(ctx context.Context, jobID string, index int, resultURI string) (string, error) {
	staging := filepath.Join(m.workDir, jobID, "downloads", fmt.Sprintf("%04d.part", index))
	defer os.Remove(staging)

	size, err := m.download(ctx, resultURI, staging)
	if err != nil {
		return "", err
	}
	if size < m.minBytes {
		return "", fmt.Errorf("clip is %d bytes, below minimum %d", size, m.minBytes)
	}
	header, err := fileutil.ReadHeader(staging, headerBytes)
	if err != nil {
		return "", fmt.Errorf("read clip header: %w", err)
	}
	ext, ok := DetectContainer(header)
	if !ok {
		return "", errors.New("clip has no recognizable container signature")
	}
	if m.prober != nil {
		result, err := m.prober.Inspect(ctx, staging)
		if err != nil {
			return "", fmt.Errorf("probe clip: %w", err)
		}
		if result.VideoStreamCount() == 0 {
			return "", errors.New("clip has no video stream")
		}
	}
	key := blob.ClipKey(jobID, index, ext)
	if err := m.blobs.PutFile(ctx, key, staging); err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}
	return key, nil
}

func (m *Materializer) download(ctx context.Context, uri, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download clip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("download clip: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	n, err := fileutil.WriteAtomic(dest, resp.Body, 0o644)
	if err != nil {
		return 0, fmt.Errorf("download clip: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return 0, fmt.Errorf("download clip: truncated body (%d of %d bytes)", n, resp.ContentLength)
	}
	return n, nil
}

// DetectContainer recognizes ISO-BMFF (ftyp box at offset 4) and
// Matroska/WebM (EBML magic) and returns the file extension to store under.
func DetectContainer(header []byte) (string, bool) {
	if len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")) {
		return ".mp4", true
	}
	if len(header) >= 4 && bytes.Equal(header[:4], ebmlMagic) {
		return ".webm", true
	}
	return "", false
}
