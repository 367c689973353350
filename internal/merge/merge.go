// Package merge produces the final artifact from the combined video and an
// optional composed audio track.
package merge

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"

	"storyreel/internal/blob"
	"storyreel/internal/encode"
	"storyreel/internal/logging"
	"storyreel/internal/media/ffprobe"
	"storyreel/internal/services"
)

// Prober is satisfied by *ffprobe.Prober.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Request names the inputs of one merge. The nominal durations come from
// the ledger and are used when probing is unavailable.
type Request struct {
	JobID        string
	VideoRef     string
	AudioRef     string
	VideoSeconds float64
	AudioSeconds float64
}

// Result describes the published artifact.
type Result struct {
	FinalRef        string
	HasAudio        bool
	DurationSeconds float64
}

// Merger muxes or republishes the combined video.
type Merger struct {
	blobs   blob.Store
	encoder encode.Encoder
	prober  Prober
	workDir string
	logger  *slog.Logger
}

// Option customizes a Merger.
type Option func(*Merger)

// WithProber measures real input durations before clamping.
func WithProber(p Prober) Option {
	return func(m *Merger) {
		m.prober = p
	}
}

// New builds a merger that stages files under workDir.
func New(blobs blob.Store, encoder encode.Encoder, workDir string, logger *slog.Logger, opts ...Option) *Merger {
	m := &Merger{
		blobs:   blobs,
		encoder: encoder,
		workDir: workDir,
		logger:  logging.NewComponentLogger(logger, "merge"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge publishes the final artifact. Without an audio track the combined
// video is republished unchanged.
func (m *Merger) Merge(ctx context.Context, req Request) (Result, error) {
	ctx = services.WithStage(services.WithJobID(ctx, req.JobID), "merge")
	logger := logging.WithContext(ctx, m.logger)
	finalKey := blob.FinalKey(req.JobID)

	if req.AudioRef == "" {
		if err := m.republish(ctx, req.VideoRef, finalKey); err != nil {
			return Result{}, err
		}
		logger.Info("final artifact published without audio",
			logging.Args(append(logging.DecisionAttrs("merge_mode", "passthrough", "no audio track"),
				logging.String("final_ref", finalKey),
			)...)...)
		return Result{FinalRef: finalKey, DurationSeconds: req.VideoSeconds}, nil
	}

	stageDir := filepath.Join(m.workDir, req.JobID, "merge")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "merge", "stage", "create staging directory", err)
	}
	videoPath := filepath.Join(stageDir, "video"+path.Ext(req.VideoRef))
	audioPath := filepath.Join(stageDir, "audio"+path.Ext(req.AudioRef))
	if err := m.blobs.Fetch(ctx, req.VideoRef, videoPath); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "merge", "fetch", "combined video", err)
	}
	if err := m.blobs.Fetch(ctx, req.AudioRef, audioPath); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "merge", "fetch", "audio track", err)
	}

	videoSeconds := m.measure(ctx, videoPath, req.VideoSeconds)
	audioSeconds := m.measure(ctx, audioPath, req.AudioSeconds)
	duration := math.Min(videoSeconds, audioSeconds)
	if videoSeconds != audioSeconds {
		logger.Info("clamping final duration",
			logging.Args(append(logging.DecisionAttrs("duration_clamp", "shorter_input", "input durations differ"),
				logging.Float64("video_seconds", videoSeconds),
				logging.Float64("audio_seconds", audioSeconds),
			)...)...)
	}

	output := filepath.Join(stageDir, "final.mp4")
	if err := m.encoder.Mux(ctx, encode.MuxRequest{
		VideoPath:       videoPath,
		AudioPath:       audioPath,
		Output:          output,
		DurationSeconds: duration,
	}); err != nil {
		return Result{}, err
	}
	if err := m.blobs.PutFile(ctx, finalKey, output); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "merge", "store", "final artifact", err)
	}
	logger.Info("final artifact published",
		logging.String("final_ref", finalKey),
		logging.Float64("duration_seconds", duration),
	)
	return Result{FinalRef: finalKey, HasAudio: true, DurationSeconds: duration}, nil
}

func (m *Merger) republish(ctx context.Context, src, dst string) error {
	rc, err := m.blobs.Open(ctx, src)
	if err != nil {
		return services.Wrap(services.ErrEncode, "merge", "passthrough", "open combined video", err)
	}
	defer rc.Close()
	if _, err := m.blobs.Put(ctx, dst, rc); err != nil {
		return services.Wrap(services.ErrEncode, "merge", "passthrough", "publish final artifact", err)
	}
	return nil
}

// measure prefers the probed duration and falls back to nominal.
func (m *Merger) measure(ctx context.Context, path string, nominal float64) float64 {
	if m.prober == nil {
		return nominal
	}
	result, err := m.prober.Inspect(ctx, path)
	if err != nil {
		logging.WithContext(ctx, m.logger).Debug("probe failed; using nominal duration",
			logging.String("path", path),
			logging.Error(err),
		)
		return nominal
	}
	if d := result.DurationSeconds(); d > 0 {
		return d
	}
	return nominal
}
