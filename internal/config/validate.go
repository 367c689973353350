package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateMaterialize(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateCost(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case LedgerDriverSQLite:
		return nil
	case LedgerDriverPostgres:
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn must be set when ledger.driver is postgres (or set STORYREEL_LEDGER_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("ledger.driver: unsupported value %q (want sqlite or postgres)", c.Ledger.Driver)
	}
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendFS:
		if strings.TrimSpace(c.Paths.BlobDir) == "" {
			return errors.New("paths.blob_dir must be set when blob.backend is fs")
		}
		return nil
	case BlobBackendS3:
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket must be set when blob.backend is s3")
		}
		return nil
	default:
		return fmt.Errorf("blob.backend: unsupported value %q (want fs or s3)", c.Blob.Backend)
	}
}

func (c *Config) validateProviders() error {
	switch c.VideoProvider.Mode {
	case VideoModeInterpolate, VideoModeReference:
	default:
		return fmt.Errorf("video_provider.mode: unsupported value %q (want interpolate or reference)", c.VideoProvider.Mode)
	}
	if c.VideoProvider.MaxClipSeconds <= 0 {
		return errors.New("video_provider.max_clip_seconds must be positive")
	}
	if c.VideoProvider.RequestTimeoutSeconds <= 0 {
		return errors.New("video_provider.request_timeout_seconds must be positive")
	}
	if c.MusicProvider.RequestTimeoutSeconds <= 0 {
		return errors.New("music_provider.request_timeout_seconds must be positive")
	}
	if c.MusicProvider.RetryAttempts < 1 {
		return errors.New("music_provider.retry_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.FanoutWidth < 0 {
		return errors.New("dispatch.fanout_width must be zero (unbounded) or positive")
	}
	if c.Dispatch.PollIntervalSeconds <= 0 {
		return errors.New("dispatch.poll_interval_seconds must be positive")
	}
	if c.Dispatch.PollTimeoutSeconds <= 0 {
		return errors.New("dispatch.poll_timeout_seconds must be positive")
	}
	if c.Dispatch.PollTimeoutSeconds < c.Dispatch.PollIntervalSeconds {
		return errors.New("dispatch.poll_timeout_seconds must be at least dispatch.poll_interval_seconds")
	}
	if c.Dispatch.MaxRetries < 0 {
		return errors.New("dispatch.max_retries must be zero or positive")
	}
	if c.Dispatch.BackoffBaseMS < 0 || c.Dispatch.BackoffMaxMS < 0 {
		return errors.New("dispatch backoff values must be zero or positive")
	}
	if c.Dispatch.BackoffMaxMS > 0 && c.Dispatch.BackoffBaseMS > c.Dispatch.BackoffMaxMS {
		return errors.New("dispatch.backoff_base_ms must not exceed dispatch.backoff_max_ms")
	}
	return nil
}

func (c *Config) validateMaterialize() error {
	if c.Materialize.MinClipBytes < 0 {
		return errors.New("materialize.min_clip_bytes must be zero or positive")
	}
	if c.Materialize.DownloadAttempts < 1 {
		return errors.New("materialize.download_attempts must be at least 1")
	}
	if c.Materialize.DownloadTimeoutSeconds <= 0 {
		return errors.New("materialize.download_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.FadeSeconds < 0 {
		return errors.New("encoder.fade_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateCost() error {
	if c.Cost.VideoRatePerSecond < 0 || c.Cost.MusicRatePerSecond < 0 {
		return errors.New("cost rates must be zero or positive")
	}
	if c.Cost.VarianceThreshold < 0 {
		return errors.New("cost.variance_threshold must be zero or positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs < 1 {
		return errors.New("workflow.max_concurrent_jobs must be at least 1")
	}
	if c.Workflow.ClaimIntervalSeconds <= 0 {
		return errors.New("workflow.claim_interval_seconds must be positive")
	}
	if c.Workflow.CancelCheckSeconds <= 0 {
		return errors.New("workflow.cancel_check_seconds must be positive")
	}
	if c.Cache.StatusTTLSeconds < 0 {
		return errors.New("cache.status_ttl_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
