package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateJob inserts a job and one pending sub-job per pair in a single
// transaction. Either every row is written or none is.
func (s *Store) CreateJob(ctx context.Context, req NewJob) (*Snapshot, error) {
	if len(req.Pairs) == 0 {
		return nil, fmt.Errorf("%w: at least one pair is required", ErrInvalidJob)
	}
	for i, pair := range req.Pairs {
		if strings.TrimSpace(pair.StartImage) == "" || strings.TrimSpace(pair.EndImage) == "" {
			return nil, fmt.Errorf("%w: pair %d is missing an image reference", ErrInvalidJob, i)
		}
		if pair.DurationSeconds <= 0 {
			return nil, fmt.Errorf("%w: pair %d has non-positive duration", ErrInvalidJob, i)
		}
	}

	now := time.Now().UTC()
	stamp := formatTime(now)
	job := Job{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Status:        JobPending,
		MusicPrompt:   strings.TrimSpace(req.MusicPrompt),
		AudioEnabled:  req.AudioEnabled,
		PairCount:     len(req.Pairs),
		CostEstimated: req.CostEstimated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	subJobs := make([]SubJob, len(req.Pairs))
	for i, pair := range req.Pairs {
		subJobs[i] = SubJob{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Index:     i,
			Pair:      pair,
			Status:    SubJobPending,
			UpdatedAt: now,
		}
	}

	insertJob := s.rebind(`INSERT INTO jobs (
        id, status, title, music_prompt, audio_enabled, pair_count, cost_estimated,
        cost_actual, cost_variance_flagged, cancel_requested, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`)
	insertSubJob := s.rebind(`INSERT INTO sub_jobs (
        id, job_id, pair_index, start_image, end_image, prompt, duration_seconds,
        music_direction, status, retry_count, cost, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertJob,
			job.ID, job.Status, nullableString(job.Title), nullableString(job.MusicPrompt),
			boolToInt(job.AudioEnabled), job.PairCount, job.CostEstimated, stamp, stamp,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		for _, sj := range subJobs {
			if _, err := tx.ExecContext(ctx, insertSubJob,
				sj.ID, sj.JobID, sj.Index, sj.Pair.StartImage, sj.Pair.EndImage,
				nullableString(sj.Pair.Prompt), sj.Pair.DurationSeconds,
				nullableString(sj.Pair.MusicDirection), sj.Status, stamp,
			); err != nil {
				return fmt.Errorf("insert sub-job %d: %w", sj.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify(job.ID)
	return &Snapshot{Job: job, SubJobs: subJobs}, nil
}

// GetJob fetches a job by id. It returns nil, nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Snapshot reads a job with its sub-jobs and audio segments. It returns nil,
// nil when the job does not exist.
func (s *Store) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	subJobs, err := s.ListSubJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	segments, err := s.ListAudioSegments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Job: *job, SubJobs: subJobs, Segments: segments}, nil
}

// ListJobs returns jobs newest first, optionally filtered by status. A limit
// of zero returns every match.
func (s *Store) ListJobs(ctx context.Context, limit int, statuses ...JobStatus) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.collectJobs(ctx, query, args...)
}

// ListFinishedBefore returns terminal jobs last updated before cutoff.
func (s *Store) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return s.collectJobs(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ? ORDER BY updated_at",
		JobCompleted, JobPartiallyCompleted, JobFailed, formatTime(cutoff),
	)
}

func (s *Store) collectJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimPending moves the oldest pending job to dispatched and returns it. It
// returns nil, nil when nothing is waiting or another claimant won the race.
func (s *Store) ClaimPending(ctx context.Context) (*Job, error) {
	var id string
	err := s.queryRow(ctx, "SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1", JobPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}
	applied, err := s.TransitionJob(ctx, id, JobDispatched, JobPatch{})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, nil
		}
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	return s.GetJob(ctx, id)
}

// TransitionJob moves a job to status to and writes the non-empty patch
// fields alongside. Re-applying the current status is a no-op that reports
// false; moving backwards or out of a terminal status returns
// ErrInvalidTransition.
func (s *Store) TransitionJob(ctx context.Context, id string, to JobStatus, patch JobPatch) (bool, error) {
	unlock := s.lockJob(id)
	defer unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status == to {
		return false, nil
	}
	if !CanTransition(job.Status, to) {
		return false, fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, id, job.Status, to)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{to, nowString()}
	for _, field := range []struct {
		column string
		value  string
	}{
		{"error_message", patch.ErrorMessage},
		{"combined_video_ref", patch.CombinedVideoRef},
		{"final_audio_ref", patch.FinalAudioRef},
		{"final_artifact_ref", patch.FinalArtifactRef},
	} {
		if field.value == "" {
			continue
		}
		sets = append(sets, field.column+" = ?")
		args = append(args, field.value)
	}
	args = append(args, id, job.Status)

	res, err := s.execWithRetry(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, fmt.Errorf("%w: job %s changed concurrently", ErrInvalidTransition, id)
	}
	s.notify(id)
	return true, nil
}

// RequestCancel flags a non-terminal job for cancellation. Running pipelines
// in any process observe the flag. It reports whether the flag was set.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	unlock := s.lockJob(id)
	defer unlock()

	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND cancel_requested = 0 AND status NOT IN (?, ?, ?)",
		nowString(), id, JobCompleted, JobPartiallyCompleted, JobFailed,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if n > 0 {
		s.notify(id)
	}
	return n > 0, nil
}

// CancelRequested reports whether cancellation was requested for the job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int64
	err := s.queryRow(ctx, "SELECT cancel_requested FROM jobs WHERE id = ?", id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// SetCostVarianceFlag records whether actual cost drifted beyond the configured threshold.
func (s *Store) SetCostVarianceFlag(ctx context.Context, id string, flagged bool) error {
	unlock := s.lockJob(id)
	defer unlock()

	if _, err := s.execWithRetry(ctx,
		"UPDATE jobs SET cost_variance_flagged = ?, updated_at = ? WHERE id = ?",
		boolToInt(flagged), nowString(), id,
	); err != nil {
		return fmt.Errorf("set cost variance flag: %w", err)
	}
	s.notify(id)
	return nil
}

// DeleteJob removes a terminal job and its children. It reports false when
// the job is missing or still running.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	unlock := s.lockJob(id)
	defer unlock()

	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM audio_segments WHERE job_id = ? AND job_id IN (SELECT id FROM jobs WHERE status IN (?, ?, ?))"),
			id, JobCompleted, JobPartiallyCompleted, JobFailed); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM sub_jobs WHERE job_id = ? AND job_id IN (SELECT id FROM jobs WHERE status IN (?, ?, ?))"),
			id, JobCompleted, JobPartiallyCompleted, JobFailed); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM jobs WHERE id = ? AND status IN (?, ?, ?)"),
			id, JobCompleted, JobPartiallyCompleted, JobFailed)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	if deleted > 0 {
		s.notify(id)
		s.locks.Delete(id)
	}
	return deleted > 0, nil
}

// recomputeCost sets cost_actual to the sum of succeeded sub-jobs plus
// recorded audio segments. Summing from rows keeps repeated writes from
// double counting.
func (s *Store) recomputeCost(ctx context.Context, tx *sql.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx, s.rebind(`UPDATE jobs SET cost_actual =
        (SELECT COALESCE(SUM(cost), 0) FROM sub_jobs WHERE job_id = ? AND status = ?) +
        (SELECT COALESCE(SUM(cost), 0) FROM audio_segments WHERE job_id = ?),
        updated_at = ?
        WHERE id = ?`), jobID, SubJobSucceeded, jobID, nowString(), jobID)
	if err != nil {
		return fmt.Errorf("recompute cost: %w", err)
	}
	return nil
}
