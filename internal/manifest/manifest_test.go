package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyreel/internal/manifest"
	"storyreel/internal/services"
)

const sample = `
title: harbour at dusk
music_prompt: slow ambient pads
default_duration_seconds: 6
pairs:
  - start_image: frames/01.png
    end_image: https://cdn.example/02.png
    prompt: camera drifts toward the lighthouse
    music_direction: gentle build
  - start_image: https://cdn.example/02.png
    end_image: catalog/03.png
    duration_seconds: 4
`

func TestLoadResolvesLocalImages(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "frames"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frames", "01.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	path := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	req := m.Request()
	if req.Title != "harbour at dusk" || req.MusicPrompt != "slow ambient pads" {
		t.Fatalf("unexpected header %+v", req)
	}
	if len(req.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(req.Pairs))
	}
	if want := filepath.Join(dir, "frames", "01.png"); req.Pairs[0].StartImage != want {
		t.Fatalf("local image not resolved: %q", req.Pairs[0].StartImage)
	}
	if req.Pairs[0].EndImage != "https://cdn.example/02.png" {
		t.Fatalf("url must pass through, got %q", req.Pairs[0].EndImage)
	}
	if req.Pairs[1].EndImage != "catalog/03.png" {
		t.Fatalf("missing local file should stay relative, got %q", req.Pairs[1].EndImage)
	}
	if req.Pairs[0].DurationSeconds != 6 || req.Pairs[1].DurationSeconds != 4 {
		t.Fatalf("unexpected durations %v %v", req.Pairs[0].DurationSeconds, req.Pairs[1].DurationSeconds)
	}
	if req.Pairs[0].MusicDirection != "gentle build" {
		t.Fatalf("music direction lost: %q", req.Pairs[0].MusicDirection)
	}
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: "empty manifest"},
		{name: "no pairs", body: "title: x\n", want: "at least one pair"},
		{name: "unknown key", body: "title: x\nspeed: 2\npairs: []\n", want: "invalid yaml"},
		{name: "missing image", body: "pairs:\n  - start_image: a.png\n    duration_seconds: 5\n", want: "pair 0"},
		{name: "no duration", body: "pairs:\n  - start_image: a.png\n    end_image: b.png\n", want: "duration_seconds is required"},
		{name: "negative duration", body: "pairs:\n  - start_image: a.png\n    end_image: b.png\n    duration_seconds: -1\n", want: "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.Parse(strings.NewReader(tt.body))
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := manifest.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, services.ErrValidation) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected validation error wrapping not-exist, got %v", err)
	}
}
