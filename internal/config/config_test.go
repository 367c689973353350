package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"storyreel/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STORYREEL_CONFIG", "")
	t.Setenv("STORYREEL_VIDEO_API_KEY", "video-key")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "storyreel")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Ledger.Driver != config.LedgerDriverSQLite {
		t.Fatalf("expected sqlite ledger by default, got %q", cfg.Ledger.Driver)
	}
	if cfg.Ledger.DSN != filepath.Join(wantState, "storyreel.db") {
		t.Fatalf("unexpected ledger dsn: %q", cfg.Ledger.DSN)
	}
	if cfg.Paths.LockPath != filepath.Join(wantState, "storyreel.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.Paths.LockPath)
	}
	if cfg.Blob.Backend != config.BlobBackendFS {
		t.Fatalf("expected fs blob backend by default, got %q", cfg.Blob.Backend)
	}
	if cfg.Dispatch.FanoutWidth != 0 {
		t.Fatalf("expected unbounded fan-out by default, got %d", cfg.Dispatch.FanoutWidth)
	}
	if cfg.VideoProvider.APIKey != "video-key" {
		t.Fatalf("expected video api key from env, got %q", cfg.VideoProvider.APIKey)
	}
	if cfg.Dispatch.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.Dispatch.PollInterval())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.WorkDir, cfg.Paths.BlobDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "storyreel.toml")
	t.Setenv("STORYREEL_VIDEO_API_KEY", "env-video")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		VideoProvider struct {
			BaseURL string `toml:"base_url"`
			APIKey  string `toml:"api_key"`
		} `toml:"video_provider"`
		Dispatch struct {
			FanoutWidth         int `toml:"fanout_width"`
			PollIntervalSeconds int `toml:"poll_interval_seconds"`
			MaxRetries          int `toml:"max_retries"`
		} `toml:"dispatch"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.VideoProvider.BaseURL = "https://video.example.com/"
	custom.VideoProvider.APIKey = "file-video"
	custom.Dispatch.FanoutWidth = 4
	custom.Dispatch.PollIntervalSeconds = 2
	custom.Dispatch.MaxRetries = 5
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.VideoProvider.BaseURL != "https://video.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.VideoProvider.BaseURL)
	}
	if cfg.VideoProvider.APIKey != "file-video" {
		t.Fatalf("expected file api key to win over env, got %q", cfg.VideoProvider.APIKey)
	}
	if cfg.Dispatch.FanoutWidth != 4 || cfg.Dispatch.MaxRetries != 5 {
		t.Fatalf("unexpected dispatch settings: %+v", cfg.Dispatch)
	}
	stateDir := filepath.Join(tempDir, "state")
	derived := map[string][2]string{
		"work_dir": {cfg.Paths.WorkDir, filepath.Join(stateDir, "work")},
		"blob_dir": {cfg.Paths.BlobDir, filepath.Join(stateDir, "blobs")},
		"log_dir":  {cfg.Paths.LogDir, filepath.Join(stateDir, "logs")},
		"ledger":   {cfg.Ledger.DSN, filepath.Join(stateDir, "storyreel.db")},
	}
	for name, pair := range derived {
		if pair[0] != pair[1] {
			t.Fatalf("expected %s derived from state dir, got %q want %q", name, pair[0], pair[1])
		}
	}
	if err := cfg.RequireProviders(); err == nil {
		t.Fatal("expected music provider base url to be required while music is enabled")
	}
	cfg.MusicProvider.Enabled = false
	if err := cfg.RequireProviders(); err != nil {
		t.Fatalf("RequireProviders returned error: %v", err)
	}
}

func TestLoadUsesConfigEnvVar(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "from-env.toml")
	if err := os.WriteFile(configPath, []byte("[cache]\nstatus_ttl_seconds = 9\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STORYREEL_CONFIG", configPath)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected env config path, got %q exists=%v", resolved, exists)
	}
	if cfg.Cache.StatusTTL() != 9*time.Second {
		t.Fatalf("unexpected status ttl: %s", cfg.Cache.StatusTTL())
	}
}

func TestLoadNotificationsFromEnv(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "notify.toml")
	if err := os.WriteFile(configPath, []byte("[notifications]\nrequest_timeout_seconds = 0\nnotify_on_success = false\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STORYREEL_NTFY_TOPIC", " https://ntfy.sh/storyreel ")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/storyreel" {
		t.Fatalf("unexpected topic %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Notifications.RequestTimeout() != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.Notifications.RequestTimeout())
	}
	if cfg.Notifications.NotifyOnSuccess {
		t.Fatal("expected notify_on_success to stay disabled")
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative fanout", func(c *config.Config) { c.Dispatch.FanoutWidth = -1 }, "fanout_width"},
		{"zero poll interval", func(c *config.Config) { c.Dispatch.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"timeout below interval", func(c *config.Config) { c.Dispatch.PollTimeoutSeconds = 1; c.Dispatch.PollIntervalSeconds = 5 }, "poll_timeout_seconds"},
		{"negative retries", func(c *config.Config) { c.Dispatch.MaxRetries = -2 }, "max_retries"},
		{"unknown ledger", func(c *config.Config) { c.Ledger.Driver = "mysql" }, "ledger.driver"},
		{"postgres without dsn", func(c *config.Config) { c.Ledger.Driver = "postgres"; c.Ledger.DSN = "" }, "ledger.dsn"},
		{"s3 without bucket", func(c *config.Config) { c.Blob.Backend = "s3" }, "s3_bucket"},
		{"unknown video mode", func(c *config.Config) { c.VideoProvider.Mode = "morph" }, "video_provider.mode"},
		{"zero download attempts", func(c *config.Config) { c.Materialize.DownloadAttempts = 0 }, "download_attempts"},
		{"negative variance", func(c *config.Config) { c.Cost.VarianceThreshold = -0.1 }, "variance_threshold"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.BlobDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	path := filepath.Join(tempDir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.VideoProvider.BaseURL == "" {
		t.Fatal("expected sample to set a video provider base url")
	}
	if err := cfg.RequireProviders(); err != nil {
		t.Fatalf("expected sample providers to satisfy RequireProviders: %v", err)
	}
}
