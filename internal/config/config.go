package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	WorkDir  string `toml:"work_dir"`
	BlobDir  string `toml:"blob_dir"`
	LogDir   string `toml:"log_dir"`
	LockPath string `toml:"lock_path"`
}

// Ledger selects the job ledger database.
type Ledger struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`    // Default: <state_dir>/storyreel.db for sqlite
}

// Blob selects where clip, audio, and final artifact bytes live.
type Blob struct {
	Backend    string `toml:"backend"` // fs or s3
	S3Bucket   string `toml:"s3_bucket"`
	S3Prefix   string `toml:"s3_prefix"`
	S3Region   string `toml:"s3_region"`
	S3Endpoint string `toml:"s3_endpoint"`
}

// VideoProvider contains settings for the clip generation service.
type VideoProvider struct {
	BaseURL               string `toml:"base_url"`
	APIKey                string `toml:"api_key"`
	Model                 string `toml:"model"`
	Mode                  string `toml:"mode"` // interpolate or reference
	MaxClipSeconds        int    `toml:"max_clip_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// MusicProvider contains settings for the music generation service.
type MusicProvider struct {
	Enabled               bool   `toml:"enabled"`
	BaseURL               string `toml:"base_url"`
	APIKey                string `toml:"api_key"`
	Model                 string `toml:"model"`
	DefaultPrompt         string `toml:"default_prompt"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	RetryAttempts         int    `toml:"retry_attempts"`
}

// Assets controls how opaque image references are resolved.
type Assets struct {
	BaseURL string `toml:"base_url"`
}

// Dispatch contains fan-out and polling settings for sub-jobs.
type Dispatch struct {
	FanoutWidth         int `toml:"fanout_width"` // 0 = unbounded
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	PollTimeoutSeconds  int `toml:"poll_timeout_seconds"`
	MaxRetries          int `toml:"max_retries"`
	BackoffBaseMS       int `toml:"backoff_base_ms"`
	BackoffMaxMS        int `toml:"backoff_max_ms"`
}

// Materialize contains clip download and validation settings.
type Materialize struct {
	MinClipBytes           int64 `toml:"min_clip_bytes"`
	DownloadAttempts       int   `toml:"download_attempts"`
	DownloadTimeoutSeconds int   `toml:"download_timeout_seconds"`
	ProbeClips             bool  `toml:"probe_clips"`
}

// Encoder contains ffmpeg settings for concat and mux.
type Encoder struct {
	FFmpegBinary  string  `toml:"ffmpeg_binary"`
	FFprobeBinary string  `toml:"ffprobe_binary"`
	AudioCodec    string  `toml:"audio_codec"`
	AudioBitrate  string  `toml:"audio_bitrate"`
	FadeSeconds   float64 `toml:"fade_seconds"`
}

// Cost contains the pricing table and variance threshold.
type Cost struct {
	VideoRatePerSecond float64 `toml:"video_rate_per_second"`
	MusicRatePerSecond float64 `toml:"music_rate_per_second"`
	VarianceThreshold  float64 `toml:"variance_threshold"`
}

// Cache contains status cache settings.
type Cache struct {
	StatusTTLSeconds int `toml:"status_ttl_seconds"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	MaxConcurrentJobs    int `toml:"max_concurrent_jobs"`
	ClaimIntervalSeconds int `toml:"claim_interval_seconds"`
	CancelCheckSeconds   int `toml:"cancel_check_seconds"`
}

// Notifications configures ntfy alerts for finished jobs.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"` // full topic URL; empty disables alerts
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyOnSuccess       bool   `toml:"notify_on_success"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for storyreel.
//
// Configuration sections by subsystem:
//   - Paths: state, scratch, blob, and log directories plus the daemon lock
//   - Ledger: job ledger database driver and DSN
//   - Blob: artifact storage backend (filesystem or S3)
//   - VideoProvider / MusicProvider: external generation services
//   - Assets: image reference resolution
//   - Dispatch: sub-job fan-out width, polling, and retry policy
//   - Materialize: clip download and validation
//   - Encoder: ffmpeg/ffprobe and audio mux settings
//   - Cost: pricing table and variance threshold
//   - Cache: status cache TTL
//   - Workflow: daemon claim and cancellation intervals
//   - Notifications: ntfy alerts when jobs finish
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Ledger        Ledger        `toml:"ledger"`
	Blob          Blob          `toml:"blob"`
	VideoProvider VideoProvider `toml:"video_provider"`
	MusicProvider MusicProvider `toml:"music_provider"`
	Assets        Assets        `toml:"assets"`
	Dispatch      Dispatch      `toml:"dispatch"`
	Materialize   Materialize   `toml:"materialize"`
	Encoder       Encoder       `toml:"encoder"`
	Cost          Cost          `toml:"cost"`
	Cache         Cache         `toml:"cache"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if value, ok := os.LookupEnv("STORYREEL_CONFIG"); ok && strings.TrimSpace(value) != "" {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Blob.Backend == BlobBackendFS {
		dirs = append(dirs, c.Paths.BlobDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequireProviders reports whether the provider endpoints needed to run jobs are configured.
// Read-only commands skip this check.
func (c *Config) RequireProviders() error {
	if strings.TrimSpace(c.VideoProvider.BaseURL) == "" {
		return fmt.Errorf("video_provider.base_url is required to run jobs (edit %s or create it with 'storyreel config init')", defaultConfigPath)
	}
	if c.MusicProvider.Enabled && strings.TrimSpace(c.MusicProvider.BaseURL) == "" {
		return errors.New("music_provider.base_url must be set when music_provider.enabled is true")
	}
	return nil
}

// PollInterval returns the fixed sub-job poll interval.
func (d Dispatch) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// PollTimeout returns the per sub-job polling deadline.
func (d Dispatch) PollTimeout() time.Duration {
	return time.Duration(d.PollTimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (d Dispatch) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (d Dispatch) BackoffMax() time.Duration {
	return time.Duration(d.BackoffMaxMS) * time.Millisecond
}

// DownloadTimeout returns the per-attempt clip download timeout.
func (m Materialize) DownloadTimeout() time.Duration {
	return time.Duration(m.DownloadTimeoutSeconds) * time.Second
}

// StatusTTL returns how long cached status snapshots stay valid.
func (c Cache) StatusTTL() time.Duration {
	return time.Duration(c.StatusTTLSeconds) * time.Second
}

// ClaimInterval returns how often the daemon looks for pending jobs.
func (w Workflow) ClaimInterval() time.Duration {
	return time.Duration(w.ClaimIntervalSeconds) * time.Second
}

// RequestTimeout returns the ntfy request timeout.
func (n Notifications) RequestTimeout() time.Duration {
	return time.Duration(n.RequestTimeoutSeconds) * time.Second
}

// CancelCheckInterval returns how often running jobs check for cross-process cancellation.
func (w Workflow) CancelCheckInterval() time.Duration {
	return time.Duration(w.CancelCheckSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
