package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Polling and backoff are shortened so pipeline tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockPath = filepath.Join(base, "state", "storyreel.lock")
	cfgVal.Ledger.DSN = filepath.Join(base, "state", "storyreel.db")
	cfgVal.VideoProvider.BaseURL = "http://video.invalid"
	cfgVal.VideoProvider.APIKey = "test"
	cfgVal.MusicProvider.BaseURL = "http://music.invalid"
	cfgVal.MusicProvider.APIKey = "test"
	cfgVal.MusicProvider.RetryAttempts = 1
	cfgVal.Dispatch.PollIntervalSeconds = 0
	cfgVal.Dispatch.BackoffBaseMS = 1
	cfgVal.Dispatch.BackoffMaxMS = 5
	cfgVal.Materialize.MinClipBytes = 16
	cfgVal.Materialize.ProbeClips = false
	cfgVal.Workflow.ClaimIntervalSeconds = 1
	cfgVal.Workflow.CancelCheckSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFanoutWidth bounds concurrent sub-job dispatch.
func WithFanoutWidth(width int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.FanoutWidth = width
	}
}

// WithMaxRetries overrides the transient retry budget per sub-job.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.MaxRetries = n
	}
}

// WithMusicDisabled turns off audio composition.
func WithMusicDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MusicProvider.Enabled = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
