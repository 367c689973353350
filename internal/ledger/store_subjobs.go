package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListSubJobs returns a job's sub-jobs ordered by pair index.
func (s *Store) ListSubJobs(ctx context.Context, jobID string) ([]SubJob, error) {
	rows, err := s.query(ctx, "SELECT "+subJobColumns+" FROM sub_jobs WHERE job_id = ? ORDER BY pair_index", jobID)
	if err != nil {
		return nil, fmt.Errorf("list sub-jobs: %w", err)
	}
	defer rows.Close()

	var out []SubJob
	for rows.Next() {
		sj, err := scanSubJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sub-job: %w", err)
		}
		out = append(out, *sj)
	}
	return out, rows.Err()
}

// GetSubJob fetches one sub-job by id. It returns nil, nil when missing.
func (s *Store) GetSubJob(ctx context.Context, id string) (*SubJob, error) {
	sj, err := scanSubJob(s.queryRow(ctx, "SELECT "+subJobColumns+" FROM sub_jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sub-job: %w", err)
	}
	return sj, nil
}

// UpdateSubJob writes the mutable fields of sj. Updates addressed to a
// sub-job that already finished are ignored and report false, so late or
// duplicated provider callbacks cannot change a recorded outcome. The job's
// actual cost is recomputed in the same transaction.
func (s *Store) UpdateSubJob(ctx context.Context, sj SubJob) (bool, error) {
	unlock := s.lockJob(sj.JobID)
	defer unlock()

	current, err := s.GetSubJob(ctx, sj.ID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, fmt.Errorf("%w: sub-job %s", ErrJobNotFound, sj.ID)
	}
	if current.Status.Terminal() {
		return false, nil
	}
	if !CanTransitionSubJob(current.Status, sj.Status) {
		return false, fmt.Errorf("%w: sub-job %d %s -> %s", ErrInvalidTransition, current.Index, current.Status, sj.Status)
	}
	if sj.RetryCount < current.RetryCount {
		sj.RetryCount = current.RetryCount
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE sub_jobs SET
            status = ?, provider_task_handle = ?, result_uri = ?, clip_ref = ?, retry_count = ?,
            last_error = ?, last_error_kind = ?, cost = ?, submitted_at = ?, completed_at = ?, updated_at = ?
            WHERE id = ? AND status = ?`),
			sj.Status,
			nullableString(sj.ProviderTaskHandle),
			nullableString(sj.ResultURI),
			nullableString(sj.ClipRef),
			sj.RetryCount,
			nullableString(sj.LastError),
			nullableString(sj.LastErrorKind),
			sj.Cost,
			nullableTime(sj.SubmittedAt),
			nullableTime(sj.CompletedAt),
			nowString(),
			sj.ID,
			current.Status,
		)
		if err != nil {
			return fmt.Errorf("update sub-job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: sub-job %d changed concurrently", ErrInvalidTransition, current.Index)
		}
		return s.recomputeCost(ctx, tx, sj.JobID)
	})
	if err != nil {
		return false, err
	}
	s.notify(sj.JobID)
	return true, nil
}
