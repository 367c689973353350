package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	c.normalizeBlob()
	c.normalizeProviders()
	c.normalizeEncoder()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("STORYREEL_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = filepath.Join(c.Paths.StateDir, "work")
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BlobDir) == "" {
		c.Paths.BlobDir = filepath.Join(c.Paths.StateDir, "blobs")
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockPath) == "" {
		c.Paths.LockPath = filepath.Join(c.Paths.StateDir, defaultLockFile)
	}
	if c.Paths.LockPath, err = expandPath(c.Paths.LockPath); err != nil {
		return fmt.Errorf("paths.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLedger() error {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerDriverSQLite
	}
	c.Ledger.DSN = strings.TrimSpace(c.Ledger.DSN)
	if c.Ledger.DSN == "" {
		if value, ok := os.LookupEnv("STORYREEL_LEDGER_DSN"); ok {
			c.Ledger.DSN = strings.TrimSpace(value)
		}
	}
	if c.Ledger.Driver == LedgerDriverSQLite {
		if c.Ledger.DSN == "" {
			c.Ledger.DSN = filepath.Join(c.Paths.StateDir, defaultDBFile)
		}
		expanded, err := expandPath(c.Ledger.DSN)
		if err != nil {
			return fmt.Errorf("ledger.dsn: %w", err)
		}
		c.Ledger.DSN = expanded
	}
	return nil
}

func (c *Config) normalizeBlob() {
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobBackendFS
	}
	c.Blob.S3Bucket = strings.TrimSpace(c.Blob.S3Bucket)
	c.Blob.S3Prefix = strings.Trim(strings.TrimSpace(c.Blob.S3Prefix), "/")
	c.Blob.S3Region = strings.TrimSpace(c.Blob.S3Region)
	if c.Blob.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Blob.S3Region = strings.TrimSpace(value)
		}
	}
	c.Blob.S3Endpoint = strings.TrimSpace(c.Blob.S3Endpoint)
}

func (c *Config) normalizeProviders() {
	c.VideoProvider.BaseURL = strings.TrimRight(strings.TrimSpace(c.VideoProvider.BaseURL), "/")
	c.VideoProvider.APIKey = strings.TrimSpace(c.VideoProvider.APIKey)
	if c.VideoProvider.APIKey == "" {
		if value, ok := os.LookupEnv("STORYREEL_VIDEO_API_KEY"); ok {
			c.VideoProvider.APIKey = strings.TrimSpace(value)
		}
	}
	c.VideoProvider.Model = strings.TrimSpace(c.VideoProvider.Model)
	if c.VideoProvider.Model == "" {
		c.VideoProvider.Model = defaultVideoModel
	}
	c.VideoProvider.Mode = strings.ToLower(strings.TrimSpace(c.VideoProvider.Mode))
	if c.VideoProvider.Mode == "" {
		c.VideoProvider.Mode = VideoModeInterpolate
	}

	c.MusicProvider.BaseURL = strings.TrimRight(strings.TrimSpace(c.MusicProvider.BaseURL), "/")
	c.MusicProvider.APIKey = strings.TrimSpace(c.MusicProvider.APIKey)
	if c.MusicProvider.APIKey == "" {
		if value, ok := os.LookupEnv("STORYREEL_MUSIC_API_KEY"); ok {
			c.MusicProvider.APIKey = strings.TrimSpace(value)
		}
	}
	c.MusicProvider.Model = strings.TrimSpace(c.MusicProvider.Model)
	if c.MusicProvider.Model == "" {
		c.MusicProvider.Model = defaultMusicModel
	}
	c.MusicProvider.DefaultPrompt = strings.TrimSpace(c.MusicProvider.DefaultPrompt)
	if c.MusicProvider.DefaultPrompt == "" {
		c.MusicProvider.DefaultPrompt = defaultMusicPrompt
	}

	c.Assets.BaseURL = strings.TrimSpace(c.Assets.BaseURL)
}

func (c *Config) normalizeEncoder() {
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.FFprobeBinary = strings.TrimSpace(c.Encoder.FFprobeBinary)
	if c.Encoder.FFprobeBinary == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Encoder.AudioCodec = strings.TrimSpace(c.Encoder.AudioCodec)
	if c.Encoder.AudioCodec == "" {
		c.Encoder.AudioCodec = defaultAudioCodec
	}
	c.Encoder.AudioBitrate = strings.TrimSpace(c.Encoder.AudioBitrate)
	if c.Encoder.AudioBitrate == "" {
		c.Encoder.AudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
