package config

const (
	defaultConfigPath = "~/.config/storyreel/config.toml"

	defaultStateDir = "~/.local/share/storyreel"
	defaultLockFile = "storyreel.lock"
	defaultDBFile   = "storyreel.db"

	LedgerDriverSQLite   = "sqlite"
	LedgerDriverPostgres = "postgres"
	BlobBackendFS        = "fs"
	BlobBackendS3        = "s3"

	VideoModeInterpolate = "interpolate"
	VideoModeReference   = "reference"

	defaultVideoModel           = "pair-interpolate-v1"
	defaultVideoMaxClipSeconds  = 10
	defaultProviderTimeout      = 30
	defaultMusicModel           = "score-continuation-v1"
	defaultMusicPrompt          = "cinematic instrumental underscore"
	defaultMusicRetryAttempts   = 3
	defaultFanoutWidth          = 0
	defaultPollIntervalSeconds  = 5
	defaultPollTimeoutSeconds   = 900
	defaultMaxRetries           = 3
	defaultBackoffBaseMS        = 1000
	defaultBackoffMaxMS         = 30000
	defaultMinClipBytes         = 1024
	defaultDownloadAttempts     = 3
	defaultDownloadTimeout      = 120
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultAudioCodec           = "aac"
	defaultAudioBitrate         = "192k"
	defaultFadeSeconds          = 1.0
	defaultVideoRatePerSecond   = 0.05
	defaultMusicRatePerSecond   = 0.01
	defaultVarianceThreshold    = 0.25
	defaultNtfyTimeoutSeconds   = 10
	defaultStatusTTLSeconds     = 2
	defaultMaxConcurrentJobs    = 2
	defaultClaimIntervalSeconds = 5
	defaultCancelCheckSeconds   = 2
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		// Work, blob and log directories derive from StateDir in normalize.
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Ledger: Ledger{
			Driver: LedgerDriverSQLite,
		},
		Blob: Blob{
			Backend: BlobBackendFS,
		},
		VideoProvider: VideoProvider{
			Model:                 defaultVideoModel,
			Mode:                  VideoModeInterpolate,
			MaxClipSeconds:        defaultVideoMaxClipSeconds,
			RequestTimeoutSeconds: defaultProviderTimeout,
		},
		MusicProvider: MusicProvider{
			Enabled:               true,
			Model:                 defaultMusicModel,
			DefaultPrompt:         defaultMusicPrompt,
			RequestTimeoutSeconds: defaultProviderTimeout,
			RetryAttempts:         defaultMusicRetryAttempts,
		},
		Dispatch: Dispatch{
			FanoutWidth:         defaultFanoutWidth,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			PollTimeoutSeconds:  defaultPollTimeoutSeconds,
			MaxRetries:          defaultMaxRetries,
			BackoffBaseMS:       defaultBackoffBaseMS,
			BackoffMaxMS:        defaultBackoffMaxMS,
		},
		Materialize: Materialize{
			MinClipBytes:           defaultMinClipBytes,
			DownloadAttempts:       defaultDownloadAttempts,
			DownloadTimeoutSeconds: defaultDownloadTimeout,
			ProbeClips:             true,
		},
		Encoder: Encoder{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			AudioCodec:    defaultAudioCodec,
			AudioBitrate:  defaultAudioBitrate,
			FadeSeconds:   defaultFadeSeconds,
		},
		Cost: Cost{
			VideoRatePerSecond: defaultVideoRatePerSecond,
			MusicRatePerSecond: defaultMusicRatePerSecond,
			VarianceThreshold:  defaultVarianceThreshold,
		},
		Cache: Cache{
			StatusTTLSeconds: defaultStatusTTLSeconds,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:    defaultMaxConcurrentJobs,
			ClaimIntervalSeconds: defaultClaimIntervalSeconds,
			CancelCheckSeconds:   defaultCancelCheckSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			NotifyOnSuccess:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
