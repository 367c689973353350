// Package combine concatenates materialized clips into one video in pair
// index order.
package combine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"storyreel/internal/blob"
	"storyreel/internal/encode"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/services"
)

// Result describes a combined video.
type Result struct {
	Key             string
	Indices         []int
	DurationSeconds float64
}

// Combiner fetches clips from the blob store and joins them losslessly.
type Combiner struct {
	blobs   blob.Store
	encoder encode.Encoder
	workDir string
	logger  *slog.Logger
}

// New builds a combiner that stages files under workDir.
func New(blobs blob.Store, encoder encode.Encoder, workDir string, logger *slog.Logger) *Combiner {
	return &Combiner{
		blobs:   blobs,
		encoder: encoder,
		workDir: workDir,
		logger:  logging.NewComponentLogger(logger, "combine"),
	}
}

// Combine concatenates every succeeded sub-job's clip, ordered by index.
// Failed pairs are omitted without placeholders.
func (c *Combiner) Combine(ctx context.Context, jobID string, subJobs []ledger.SubJob) (Result, error) {
	ctx = services.WithStage(services.WithJobID(ctx, jobID), "combine")
	logger := logging.WithContext(ctx, c.logger)

	clips := ledger.Succeeded(subJobs)
	if len(clips) == 0 {
		return Result{}, services.Wrap(services.ErrEncode, "combine", "select", "no materialized clips", nil)
	}

	stageDir := filepath.Join(c.workDir, jobID, "combine")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "combine", "stage", "create staging directory", err)
	}

	result := Result{Indices: make([]int, 0, len(clips))}
	inputs := make([]string, 0, len(clips))
	for _, clip := range clips {
		local := filepath.Join(stageDir, fmt.Sprintf("%04d%s", clip.Index, path.Ext(clip.ClipRef)))
		if err := c.blobs.Fetch(ctx, clip.ClipRef, local); err != nil {
			return Result{}, services.Wrap(services.ErrEncode, "combine", "fetch",
				fmt.Sprintf("clip for pair %d", clip.Index), err)
		}
		inputs = append(inputs, local)
		result.Indices = append(result.Indices, clip.Index)
		result.DurationSeconds += clip.Pair.DurationSeconds
	}

	if skipped := ledger.FailedIndices(subJobs); len(skipped) > 0 {
		logger.Info("combining partial clip set",
			logging.Args(append(logging.DecisionAttrs("combine_subset", "partial", "failed pairs omitted"),
				logging.Any("included_indices", result.Indices),
				logging.Any("omitted_indices", skipped),
			)...)...)
	}

	output := filepath.Join(stageDir, "combined.mp4")
	if err := c.encoder.Concat(ctx, inputs, output); err != nil {
		return Result{}, err
	}
	key := blob.CombinedKey(jobID)
	if err := c.blobs.PutFile(ctx, key, output); err != nil {
		return Result{}, services.Wrap(services.ErrEncode, "combine", "store", "combined video", err)
	}
	result.Key = key

	logger.Info("clips combined",
		logging.Int("clip_count", len(inputs)),
		logging.String("combined_ref", key),
		logging.Float64("duration_seconds", result.DurationSeconds),
	)
	return result, nil
}
