// Package compose builds one continuous music track for a job by extending
// a cumulative audio artifact scene by scene.
//
// Steps run strictly in sequence: scene k is a continuation of the track
// covering scenes 0..k-1. Any failure abandons the whole track; callers
// then mux without audio rather than ship a truncated score.
package compose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"storyreel/internal/blob"
	"storyreel/internal/config"
	"storyreel/internal/cost"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/provider"
	"storyreel/internal/services"
)

// Ledger records and replays composition steps.
type Ledger interface {
	ListAudioSegments(ctx context.Context, jobID string) ([]ledger.AudioSegment, error)
	RecordAudioSegment(ctx context.Context, seg ledger.AudioSegment) (bool, error)
}

// Scene is one step of the track.
type Scene struct {
	PairIndex       int
	DurationSeconds float64
	Direction       string
}

// Result is a composed, stored track.
type Result struct {
	AudioRef        string
	DurationSeconds float64
	Steps           int
}

// Composer drives the music provider through the continuation chain.
type Composer struct {
	music         provider.MusicProvider
	store         Ledger
	blobs         blob.Store
	pricing       cost.Pricing
	model         string
	defaultPrompt string
	client        *http.Client
	logger        *slog.Logger
}

// Option customizes a Composer.
type Option func(*Composer)

// WithHTTPClient overrides the client used to fetch the finished track.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Composer) {
		if client != nil {
			c.client = client
		}
	}
}

// New builds a composer from the music provider settings.
func New(cfg config.MusicProvider, music provider.MusicProvider, store Ledger, blobs blob.Store, pricing cost.Pricing, logger *slog.Logger, opts ...Option) *Composer {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Composer{
		music:         music,
		store:         store,
		blobs:         blobs,
		pricing:       pricing,
		model:         strings.TrimSpace(cfg.Model),
		defaultPrompt: strings.TrimSpace(cfg.DefaultPrompt),
		client:        &http.Client{Timeout: timeout},
		logger:        logging.NewComponentLogger(logger, "compose"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScenesFor returns one scene per succeeded sub-job, in index order, so the
// track lines up with the combined video.
func ScenesFor(subJobs []ledger.SubJob) []Scene {
	clips := ledger.Succeeded(subJobs)
	scenes := make([]Scene, 0, len(clips))
	for _, sj := range clips {
		scenes = append(scenes, Scene{
			PairIndex:       sj.Index,
			DurationSeconds: sj.Pair.DurationSeconds,
			Direction:       sj.Pair.MusicDirection,
		})
	}
	return scenes
}

// Compose produces the track for scenes. Steps already recorded in the
// ledger for the same scene sequence are reused. Every failure is an
// ErrAudioContinuity.
func (c *Composer) Compose(ctx context.Context, job ledger.Job, scenes []Scene) (Result, error) {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), "compose")
	logger := logging.WithContext(ctx, c.logger)

	if len(scenes) == 0 {
		return Result{}, continuity("plan", "no scenes to score", nil)
	}
	done, err := c.store.ListAudioSegments(ctx, job.ID)
	if err != nil {
		return Result{}, continuity("resume", "list recorded segments", err)
	}
	resumeFrom, priorURI, cumulative, err := resumePoint(done, scenes)
	if err != nil {
		return Result{}, err
	}
	if resumeFrom > 0 {
		logger.Info("resuming audio composition",
			logging.Args(append(logging.DecisionAttrs("compose_resume", "resume", "segments already recorded"),
				logging.Int("completed_steps", resumeFrom),
				logging.Int("total_steps", len(scenes)),
			)...)...)
	}

	for k := resumeFrom; k < len(scenes); k++ {
		if err := ctx.Err(); err != nil {
			return Result{}, continuity("step", "interrupted", err)
		}
		scene := scenes[k]
		prompt := c.promptFor(job, scene)

		var uri string
		if k == 0 {
			req, err := provider.NewInitialMusicRequest(c.model, prompt, scene.DurationSeconds)
			if err != nil {
				return Result{}, continuity("step", "scene 0 request", err)
			}
			uri, err = c.music.GenerateInitial(ctx, req)
			if err != nil {
				return Result{}, continuity("step", "scene 0 generation", err)
			}
		} else {
			req, err := provider.NewContinuationRequest(c.model, prompt, priorURI, scene.DurationSeconds)
			if err != nil {
				return Result{}, continuity("step", fmt.Sprintf("scene %d request", k), err)
			}
			uri, err = c.music.Continue(ctx, req)
			if err != nil {
				return Result{}, continuity("step", fmt.Sprintf("scene %d continuation", k), err)
			}
		}
		if strings.TrimSpace(uri) == "" {
			return Result{}, continuity("step", fmt.Sprintf("scene %d returned no audio", k), nil)
		}

		cumulative += scene.DurationSeconds
		seg := ledger.AudioSegment{
			JobID:             job.ID,
			SceneIndex:        k,
			PairIndex:         scene.PairIndex,
			DurationSeconds:   scene.DurationSeconds,
			CumulativeSeconds: cumulative,
			ProviderURI:       uri,
			Cost:              c.pricing.Music(scene.DurationSeconds),
		}
		if _, err := c.store.RecordAudioSegment(ctx, seg); err != nil {
			return Result{}, continuity("record", fmt.Sprintf("scene %d", k), err)
		}
		logger.Info("audio step composed",
			logging.Int("scene_index", k),
			logging.Int("pair_index", scene.PairIndex),
			logging.Float64("cumulative_seconds", cumulative),
		)
		priorURI = uri
	}

	key := blob.AudioKey(job.ID, audioExt(priorURI))
	if err := c.fetchTrack(ctx, key, priorURI); err != nil {
		return Result{}, continuity("store", "final track", err)
	}
	logger.Info("audio track composed",
		logging.String("audio_ref", key),
		logging.Float64("duration_seconds", cumulative),
		logging.Int("steps", len(scenes)),
	)
	return Result{AudioRef: key, DurationSeconds: cumulative, Steps: len(scenes)}, nil
}

func (c *Composer) promptFor(job ledger.Job, scene Scene) string {
	base := strings.TrimSpace(job.MusicPrompt)
	if base == "" {
		base = c.defaultPrompt
	}
	direction := strings.TrimSpace(scene.Direction)
	switch {
	case direction == "":
		return base
	case base == "":
		return direction
	default:
		return base + "; " + direction
	}
}

// fetchTrack downloads the cumulative track into the blob store.
func (c *Composer) fetchTrack(ctx context.Context, key, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("build audio request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("download audio: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	n, err := c.blobs.Put(ctx, key, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("download audio: empty body")
	}
	return nil
}

// resumePoint finds how many leading steps are already recorded for this
// scene sequence. Sub-jobs are terminal before composition starts, so a
// recorded chain that disagrees with scenes means the ledger is corrupt.
func resumePoint(done []ledger.AudioSegment, scenes []Scene) (next int, priorURI string, cumulative float64, err error) {
	for k, seg := range done {
		if k >= len(scenes) || seg.SceneIndex != k || seg.PairIndex != scenes[k].PairIndex {
			return 0, "", 0, continuity("resume",
				fmt.Sprintf("recorded step %d for pair %d does not match the scene plan", seg.SceneIndex, seg.PairIndex), nil)
		}
		next = k + 1
		priorURI = seg.ProviderURI
		cumulative = seg.CumulativeSeconds
	}
	return next, priorURI, cumulative, nil
}

func audioExt(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return path.Ext(parsed.Path)
}

func continuity(operation, message string, err error) error {
	return services.Wrap(services.ErrAudioContinuity, "compose", operation, message, err)
}
