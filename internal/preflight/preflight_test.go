package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/config"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present")
	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestCheckProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good-key":
			w.WriteHeader(http.StatusNotFound)
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		baseURL string
		key     string
		passed  bool
	}{
		{name: "reachable", baseURL: srv.URL, key: "good-key", passed: true},
		{name: "bad key", baseURL: srv.URL, key: "bad-key"},
		{name: "server error", baseURL: srv.URL, key: "broken"},
		{name: "missing url", key: "good-key"},
		{name: "missing key", baseURL: srv.URL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckProvider(context.Background(), "Video provider", tt.baseURL, tt.key)
			if result.Passed != tt.passed {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tt.passed, result.Detail)
			}
		})
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_SkipsDisabledMusic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bin := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.BlobDir = t.TempDir()
	cfg.Encoder.FFmpegBinary = writeStub(t, bin, "ffmpeg")
	cfg.Encoder.FFprobeBinary = writeStub(t, bin, "ffprobe")
	cfg.VideoProvider.BaseURL = srv.URL
	cfg.VideoProvider.APIKey = "key"
	cfg.MusicProvider.Enabled = false

	results := RunAll(context.Background(), &cfg)
	for _, r := range results {
		if r.Name == "Music provider" {
			t.Fatal("music provider must not be checked when disabled")
		}
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestFailedIgnoresOptional(t *testing.T) {
	results := []Result{
		{Name: "a", Passed: true},
		{Name: "b", Optional: true},
		{Name: "c"},
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "c" {
		t.Fatalf("unexpected failed set %+v", failed)
	}
}
