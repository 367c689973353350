package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordAudioSegment stores one composition step and adds its cost to the
// job. Recording the same scene index twice keeps the first row and reports
// false.
func (s *Store) RecordAudioSegment(ctx context.Context, seg AudioSegment) (bool, error) {
	unlock := s.lockJob(seg.JobID)
	defer unlock()

	created := seg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var inserted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO audio_segments (
            job_id, scene_index, pair_index, duration_seconds, cumulative_seconds, provider_uri, cost, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (job_id, scene_index) DO NOTHING`),
			seg.JobID, seg.SceneIndex, seg.PairIndex, seg.DurationSeconds, seg.CumulativeSeconds,
			seg.ProviderURI, seg.Cost, formatTime(created),
		)
		if err != nil {
			return fmt.Errorf("insert audio segment: %w", err)
		}
		if inserted, err = res.RowsAffected(); err != nil {
			return err
		}
		if inserted == 0 {
			return nil
		}
		return s.recomputeCost(ctx, tx, seg.JobID)
	})
	if err != nil {
		return false, err
	}
	if inserted > 0 {
		s.notify(seg.JobID)
	}
	return inserted > 0, nil
}

// ListAudioSegments returns a job's audio segments ordered by scene index.
func (s *Store) ListAudioSegments(ctx context.Context, jobID string) ([]AudioSegment, error) {
	rows, err := s.query(ctx, "SELECT "+segmentColumns+" FROM audio_segments WHERE job_id = ? ORDER BY scene_index", jobID)
	if err != nil {
		return nil, fmt.Errorf("list audio segments: %w", err)
	}
	defer rows.Close()

	var out []AudioSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audio segment: %w", err)
		}
		out = append(out, *seg)
	}
	return out, rows.Err()
}
