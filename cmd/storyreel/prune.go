package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storyreel/internal/blob"
	"storyreel/internal/config"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
)

func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	store, err := blob.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, nil
}

// pruneJobs deletes terminal jobs last updated before cutoff. Artifacts go
// first so a failure leaves the ledger row in place for the next attempt.
func pruneJobs(ctx context.Context, store *ledger.Store, blobs blob.Store, cutoff time.Time, dryRun bool, logger *slog.Logger) ([]string, error) {
	jobs, err := store.ListFinishedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list finished jobs: %w", err)
	}
	pruned := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if dryRun {
			pruned = append(pruned, job.ID)
			continue
		}
		if err := blobs.DeletePrefix(ctx, blob.JobPrefix(job.ID)); err != nil {
			return pruned, fmt.Errorf("delete artifacts of %s: %w", job.ID, err)
		}
		deleted, err := store.DeleteJob(ctx, job.ID)
		if err != nil {
			return pruned, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		if !deleted {
			continue
		}
		logger.Info("job pruned",
			logging.String(logging.FieldEventType, "job_pruned"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
		)
		pruned = append(pruned, job.ID)
	}
	return pruned, nil
}
