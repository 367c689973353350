// Package ledger persists jobs, their sub-jobs, and audio segments, and owns
// the job state machine.
//
// The ledger is the single source of truth for pipeline progress. Every stage
// reads and writes through it:
//
//   - CreateJob inserts a job and all of its sub-jobs in one transaction.
//   - UpdateSubJob is called by the sub-job's own poll loop; terminal sub-jobs
//     never change again, so repeated terminal writes are no-ops.
//   - TransitionJob moves a job forward through pending, dispatched,
//     combining, audio_composing, muxing and a terminal status. Transitions are
//     monotonic and guarded on the current status, and writers are serialized
//     per job id.
//
// cost_actual is recomputed from succeeded sub-jobs and recorded audio
// segments on every relevant write, which keeps cost accounting idempotent.
//
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL (lib/pq) is
// available for shared deployments. Observers registered with OnChange are
// notified after every committed write so caches can invalidate.
package ledger
