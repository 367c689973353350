// Package encode drives ffmpeg for the two operations the pipeline needs:
// lossless concatenation of clips and muxing a video with an audio track.
//
// Outputs are written to a hidden sibling file and renamed into place on
// success, so a failed or canceled run never leaves a partial artifact.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/services"
)

const stderrExcerptLines = 12

// CommandRunner executes name with args.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Encoder is what the combine and merge stages depend on.
type Encoder interface {
	Concat(ctx context.Context, inputs []string, output string) error
	Mux(ctx context.Context, req MuxRequest) error
}

// MuxRequest describes one audio/video mux.
type MuxRequest struct {
	VideoPath string
	AudioPath string
	Output    string
	// DurationSeconds clamps the output length; callers pass the shorter of
	// the video and audio durations.
	DurationSeconds float64
}

// FFmpeg implements Encoder with the ffmpeg binary.
type FFmpeg struct {
	binary       string
	audioCodec   string
	audioBitrate string
	fadeSeconds  float64
	run          CommandRunner
	logger       *slog.Logger
}

// New builds an ffmpeg encoder from configuration.
func New(cfg config.Encoder, logger *slog.Logger) *FFmpeg {
	binary := strings.TrimSpace(cfg.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary:       binary,
		audioCodec:   firstNonEmpty(cfg.AudioCodec, "aac"),
		audioBitrate: firstNonEmpty(cfg.AudioBitrate, "192k"),
		fadeSeconds:  cfg.FadeSeconds,
		run:          defaultCommandRunner,
		logger:       logging.NewComponentLogger(logger, "encode"),
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (f *FFmpeg) WithCommandRunner(r CommandRunner) *FFmpeg {
	if f != nil && r != nil {
		f.run = r
	}
	return f
}

// Concat joins inputs in the given order without re-encoding.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return services.Wrap(services.ErrEncode, "combine", "concat", "no inputs", nil)
	}
	for _, input := range inputs {
		if _, err := os.Stat(input); err != nil {
			return services.Wrap(services.ErrEncode, "combine", "concat", "input missing", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Wrap(services.ErrEncode, "combine", "concat", "create output directory", err)
	}
	tmp := partialPath(output)
	listPath := tmp + ".txt"
	if err := os.WriteFile(listPath, []byte(ConcatList(inputs)), 0o644); err != nil {
		return services.Wrap(services.ErrEncode, "combine", "concat", "write list file", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		tmp,
	}
	f.logger.Debug("executing ffmpeg concat",
		logging.Int("input_count", len(inputs)),
		logging.String("output", output),
	)
	return f.execute(ctx, "concat", args, tmp, output)
}

// Mux copies the video stream, encodes the audio stream with fades and
// clamps the output to req.DurationSeconds.
func (f *FFmpeg) Mux(ctx context.Context, req MuxRequest) error {
	for _, input := range []string{req.VideoPath, req.AudioPath} {
		if _, err := os.Stat(input); err != nil {
			return services.Wrap(services.ErrEncode, "merge", "mux", "input missing", err)
		}
	}
	if req.DurationSeconds <= 0 {
		return services.Wrap(services.ErrEncode, "merge", "mux", "non-positive output duration", nil)
	}
	tmp := partialPath(req.Output)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", req.VideoPath,
		"-i", req.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", f.audioCodec,
		"-b:a", f.audioBitrate,
	}
	if filter := FadeFilter(f.fadeSeconds, req.DurationSeconds); filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args,
		"-t", formatSeconds(req.DurationSeconds),
		"-movflags", "+faststart",
		tmp,
	)
	f.logger.Debug("executing ffmpeg mux",
		logging.String("video", req.VideoPath),
		logging.String("audio", req.AudioPath),
		logging.Float64("duration_seconds", req.DurationSeconds),
	)
	return f.execute(ctx, "mux", args, tmp, req.Output)
}

func (f *FFmpeg) execute(ctx context.Context, operation string, args []string, tmp, output string) error {
	stage := "combine"
	if operation == "mux" {
		stage = "merge"
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Wrap(services.ErrEncode, stage, operation, "create output directory", err)
	}
	if err := f.run(ctx, f.binary, args...); err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCanceled, stage, operation, "ffmpeg interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrEncode, stage, operation, "ffmpeg failed", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		return services.Wrap(services.ErrEncode, stage, operation, "ffmpeg produced no output", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrEncode, stage, operation, "publish output", err)
	}
	return nil
}

// ConcatList renders the concat demuxer list for inputs.
func ConcatList(inputs []string) string {
	var b strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			abs = input
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// FadeFilter builds the afade in/out chain for a track of durationSeconds.
// Fades are shortened to half the track when it is too short.
func FadeFilter(fadeSeconds, durationSeconds float64) string {
	if fadeSeconds <= 0 || durationSeconds <= 0 {
		return ""
	}
	if fadeSeconds*2 > durationSeconds {
		fadeSeconds = durationSeconds / 2
	}
	fade := formatSeconds(fadeSeconds)
	return "afade=t=in:st=0:d=" + fade + ",afade=t=out:st=" + formatSeconds(durationSeconds-fadeSeconds) + ":d=" + fade
}

func partialPath(output string) string {
	return filepath.Join(filepath.Dir(output), ".partial-"+filepath.Base(output))
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, StderrExcerpt(stderr.String()))
	}
	return nil
}

// StderrExcerpt keeps the last lines of subprocess output.
func StderrExcerpt(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > stderrExcerptLines {
		lines = lines[len(lines)-stderrExcerptLines:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
