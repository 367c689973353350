package materialize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"storyreel/internal/blob"
	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/media/ffprobe"
	"storyreel/internal/provider"
	"storyreel/internal/services"
	"storyreel/internal/testsupport"
)

type fakeProber struct {
	result ffprobe.Result
	err    error
}

func (f fakeProber) Inspect(context.Context, string) (ffprobe.Result, error) {
	return f.result, f.err
}

func newMaterializer(t *testing.T, attempts int, opts ...Option) (*Materializer, *blob.FS, string) {
	t.Helper()
	root := t.TempDir()
	store, err := blob.NewFS(filepath.Join(root, "blobs"))
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	cfg := config.Materialize{MinClipBytes: 64, DownloadAttempts: attempts, DownloadTimeoutSeconds: 5}
	opts = append([]Option{WithBackoff(provider.Backoff{Base: 0})}, opts...)
	return New(cfg, filepath.Join(root, "work"), store, logging.NewNop(), opts...), store, root
}

func TestMaterializeStoresValidClip(t *testing.T) {
	clip := testsupport.ClipBytes(256)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(clip)
	}))
	defer server.Close()

	m, store, root := newMaterializer(t, 1, WithProber(fakeProber{result: ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video"}}}}))
	key, err := m.Materialize(context.Background(), "job-1", 2, server.URL+"/clip.mp4")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if key != "jobs/job-1/clips/0002.mp4" {
		t.Fatalf("unexpected key %q", key)
	}
	data, err := os.ReadFile(store.Location(key))
	if err != nil || len(data) != len(clip) {
		t.Fatalf("stored clip mismatch: %d bytes err=%v", len(data), err)
	}
	if _, err := os.Stat(filepath.Join(root, "work", "job-1", "downloads", "0002.part")); !os.IsNotExist(err) {
		t.Fatalf("expected staging file to be removed, got %v", err)
	}
}

func TestMaterializeRejectsBadClipsAfterBoundedRetries(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		code int
	}{
		{"too small", testsupport.ClipBytes(16), http.StatusOK},
		{"no signature", make([]byte, 256), http.StatusOK},
		{"http error", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.code)
				_, _ = w.Write(tc.body)
			}))
			defer server.Close()

			m, _, _ := newMaterializer(t, 3)
			_, err := m.Materialize(context.Background(), "job-2", 0, server.URL)
			if !errors.Is(err, services.ErrDownload) {
				t.Fatalf("expected download error, got %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != 3 {
				t.Fatalf("expected 3 attempts, got %d", got)
			}
		})
	}
}

func TestMaterializeRecoversOnRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(testsupport.ClipBytes(128))
	}))
	defer server.Close()

	m, _, _ := newMaterializer(t, 2)
	if _, err := m.Materialize(context.Background(), "job-3", 1, server.URL); err != nil {
		t.Fatalf("expected second attempt to succeed, got %v", err)
	}
}

func TestMaterializeRequiresVideoStreamWhenProbing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(testsupport.ClipBytes(128))
	}))
	defer server.Close()

	m, _, _ := newMaterializer(t, 1, WithProber(fakeProber{result: ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "audio"}}}}))
	if _, err := m.Materialize(context.Background(), "job-4", 0, server.URL); !errors.Is(err, services.ErrDownload) {
		t.Fatalf("expected download error, got %v", err)
	}
}

func TestDetectContainer(t *testing.T) {
	if ext, ok := DetectContainer(testsupport.ClipBytes(12)); !ok || ext != ".mp4" {
		t.Fatalf("expected mp4, got %q %v", ext, ok)
	}
	if ext, ok := DetectContainer([]byte{0x1A, 0x45, 0xDF, 0xA3, 0, 0}); !ok || ext != ".webm" {
		t.Fatalf("expected webm, got %q %v", ext, ok)
	}
	if _, ok := DetectContainer([]byte("RIFF....WAVE")); ok {
		t.Fatal("expected unknown container to be rejected")
	}
}
