package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"storyreel/internal/assets"
	"storyreel/internal/blob"
	"storyreel/internal/combine"
	"storyreel/internal/compose"
	"storyreel/internal/config"
	"storyreel/internal/cost"
	"storyreel/internal/dispatch"
	"storyreel/internal/encode"
	"storyreel/internal/ledger"
	"storyreel/internal/materialize"
	"storyreel/internal/media/ffprobe"
	"storyreel/internal/merge"
	"storyreel/internal/notifications"
	"storyreel/internal/provider"
)

// Collaborators lets callers replace the external services a pipeline talks
// to. Nil fields are built from configuration.
type Collaborators struct {
	Video         dispatch.Video
	Music         provider.MusicProvider
	Blobs         blob.Store
	FFmpegRunner  encode.CommandRunner
	FFprobeRunner ffprobe.Runner
	Notifier      Notifier
}

// Build wires a Manager from configuration.
func Build(ctx context.Context, cfg *config.Config, store *ledger.Store, logger *slog.Logger, collab Collaborators) (*Manager, error) {
	runner, err := BuildRunner(ctx, cfg, store, logger, collab)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg, store, runner, logger), nil
}

// BuildRunner wires the per-job stages from configuration.
func BuildRunner(ctx context.Context, cfg *config.Config, store *ledger.Store, logger *slog.Logger, collab Collaborators) (*Runner, error) {
	blobs := collab.Blobs
	if blobs == nil {
		opened, err := blob.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		blobs = opened
	}
	video := collab.Video
	if video == nil {
		video = provider.NewVideoClient(cfg.VideoProvider)
	}

	prober := ffprobe.New(cfg.Encoder.FFprobeBinary).WithRunner(collab.FFprobeRunner)
	encoder := encode.New(cfg.Encoder, logger).WithCommandRunner(collab.FFmpegRunner)
	pricing := cost.NewPricing(cfg.Cost)

	var matOpts []materialize.Option
	if cfg.Materialize.ProbeClips {
		matOpts = append(matOpts, materialize.WithProber(prober))
	}
	clips := materialize.New(cfg.Materialize, cfg.Paths.WorkDir, blobs, logger, matOpts...)

	stages := Stages{
		Dispatcher: dispatch.New(cfg.Dispatch, dispatch.Dependencies{
			Ledger:  store,
			Video:   video,
			Assets:  assets.NewResolver(cfg.Assets.BaseURL),
			Clips:   clips,
			Pricing: pricing,
		}, logger),
		Combiner: combine.New(blobs, encoder, cfg.Paths.WorkDir, logger),
		Merger:   merge.New(blobs, encoder, cfg.Paths.WorkDir, logger, merge.WithProber(prober)),
		Notifier: collab.Notifier,
	}
	if stages.Notifier == nil {
		stages.Notifier = notifications.NewService(cfg.Notifications)
	}
	if cfg.MusicProvider.Enabled {
		music := collab.Music
		if music == nil {
			music = provider.NewMusicClient(cfg.MusicProvider)
		}
		stages.Composer = compose.New(cfg.MusicProvider, music, store, blobs, pricing, logger)
	}
	return NewRunner(store, stages, cfg.Cost.VarianceThreshold, cfg.Paths.WorkDir, logger), nil
}
