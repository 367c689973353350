package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/combine"
	"storyreel/internal/compose"
	"storyreel/internal/cost"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/merge"
	"storyreel/internal/services"
)

// CanceledMessage is the error recorded on jobs stopped by CancelJob.
const CanceledMessage = "job canceled"

// Dispatcher runs every sub-job of a job to a terminal state.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) ([]ledger.SubJob, error)
}

// Combiner joins materialized clips in index order.
type Combiner interface {
	Combine(ctx context.Context, jobID string, subJobs []ledger.SubJob) (combine.Result, error)
}

// Composer builds the continuous audio track.
type Composer interface {
	Compose(ctx context.Context, job ledger.Job, scenes []compose.Scene) (compose.Result, error)
}

// Merger publishes the final artifact.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) (merge.Result, error)
}

// Stages bundles the per-stage handlers a Runner orchestrates. Composer may
// be nil, in which case every job is delivered without audio.
type Stages struct {
	Dispatcher Dispatcher
	Combiner   Combiner
	Composer   Composer
	Merger     Merger
	// Notifier, when set, is told about every finished job.
	Notifier Notifier
}

// Notifier announces finished jobs.
type Notifier interface {
	JobFinished(ctx context.Context, job ledger.Job, failedIndices []int) error
}

// Runner advances one job through the pipeline.
type Runner struct {
	store     *ledger.Store
	stages    Stages
	threshold float64
	workDir   string
	logger    *slog.Logger
}

// NewRunner builds a runner. threshold is the cost variance ratio that
// flags a finished job.
func NewRunner(store *ledger.Store, stages Stages, threshold float64, workDir string, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		stages:    stages,
		threshold: threshold,
		workDir:   workDir,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Run executes jobID from its recorded status until it is terminal. Stage
// failures are recorded on the job and do not produce an error; the error
// reports cancellation and ledger faults, leaving the job resumable.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, r.logger)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job == nil {
			return services.Wrap(services.ErrNotFound, "pipeline", "run", "job "+jobID, nil)
		}
		if job.Status.Terminal() {
			r.finish(ctx, job)
			return nil
		}
		stageCtx := services.WithStage(ctx, string(job.Status))
		logger.Debug("advancing job", logging.String("status", string(job.Status)))

		switch job.Status {
		case ledger.JobPending:
			err = r.transition(stageCtx, job, ledger.JobDispatched, ledger.JobPatch{})
		case ledger.JobDispatched:
			err = r.dispatch(stageCtx, job)
		case ledger.JobCombining:
			err = r.combine(stageCtx, job)
		case ledger.JobAudioComposing:
			err = r.compose(stageCtx, job)
		case ledger.JobMuxing:
			err = r.mux(stageCtx, job)
		default:
			err = fmt.Errorf("unexpected job status %q", job.Status)
		}
		if err != nil {
			return err
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, job *ledger.Job) error {
	subJobs, err := r.stages.Dispatcher.Dispatch(ctx, job.ID)
	if err != nil {
		return err
	}
	next, err := ledger.DispatchOutcome(subJobs)
	if err != nil {
		return err
	}
	if next == ledger.JobFailed {
		message := fmt.Sprintf("all %d pair(s) failed: %s", len(subJobs), ledger.DescribeFailures(subJobs))
		return r.transition(ctx, job, ledger.JobFailed, ledger.JobPatch{ErrorMessage: message})
	}
	return r.transition(ctx, job, next, ledger.JobPatch{})
}

func (r *Runner) combine(ctx context.Context, job *ledger.Job) error {
	subJobs, err := r.store.ListSubJobs(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list sub-jobs: %w", err)
	}
	result, err := r.stages.Combiner.Combine(ctx, job.ID, subJobs)
	if err != nil {
		return r.stageFailed(ctx, job, "combine", err)
	}
	return r.transition(ctx, job, ledger.JobAudioComposing, ledger.JobPatch{CombinedVideoRef: result.Key})
}

func (r *Runner) compose(ctx context.Context, job *ledger.Job) error {
	logger := logging.WithContext(ctx, r.logger)
	if !job.AudioEnabled || r.stages.Composer == nil {
		logger.Info("skipping audio composition",
			logging.Args(logging.DecisionAttrs("audio_compose", "skipped", "audio disabled")...)...)
		return r.transition(ctx, job, ledger.JobMuxing, ledger.JobPatch{})
	}
	subJobs, err := r.store.ListSubJobs(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list sub-jobs: %w", err)
	}
	result, err := r.stages.Composer.Compose(ctx, *job, compose.ScenesFor(subJobs))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logging.WarnWithContext(logger, "audio composition abandoned; delivering video without audio", "audio_fallback",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldImpact, "final artifact has no audio track"),
			logging.String(logging.FieldErrorHint, "check music provider availability"),
		)
		return r.transition(ctx, job, ledger.JobMuxing, ledger.JobPatch{})
	}
	return r.transition(ctx, job, ledger.JobMuxing, ledger.JobPatch{FinalAudioRef: result.AudioRef})
}

func (r *Runner) mux(ctx context.Context, job *ledger.Job) error {
	snap, err := r.store.Snapshot(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "mux", "job "+job.ID, nil)
	}
	videoSeconds := 0.0
	for _, sj := range ledger.Succeeded(snap.SubJobs) {
		videoSeconds += sj.Pair.DurationSeconds
	}
	audioSeconds := 0.0
	if n := len(snap.Segments); n > 0 && job.FinalAudioRef != "" {
		audioSeconds = snap.Segments[n-1].CumulativeSeconds
	}

	result, err := r.stages.Merger.Merge(ctx, merge.Request{
		JobID:        job.ID,
		VideoRef:     job.CombinedVideoRef,
		AudioRef:     job.FinalAudioRef,
		VideoSeconds: videoSeconds,
		AudioSeconds: audioSeconds,
	})
	if err != nil {
		return r.stageFailed(ctx, job, "merge", err)
	}
	final := ledger.FinalStatus(snap.SubJobs)
	return r.transition(ctx, job, final, ledger.JobPatch{
		ErrorMessage:     ledger.DescribeFailures(snap.SubJobs),
		FinalArtifactRef: result.FinalRef,
	})
}

// stageFailed records a stage error on the job. Interrupted stages are left
// in place for resume instead.
func (r *Runner) stageFailed(ctx context.Context, job *ledger.Job, stage string, stageErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(stageErr, services.ErrCanceled) || errors.Is(stageErr, context.Canceled) {
		return stageErr
	}
	logging.ErrorWithContext(logging.WithContext(ctx, r.logger), "stage failed", "stage_failure",
		logging.String("failed_stage", stage),
		logging.String(logging.FieldErrorKind, services.Kind(stageErr)),
		logging.Error(stageErr),
	)
	message := stage + " failed: " + stageErr.Error()
	if partial := ledger.DescribeFailures(r.subJobsQuiet(ctx, job.ID)); partial != "" {
		message += "; " + partial
	}
	return r.transition(ctx, job, ledger.JobFailed, ledger.JobPatch{ErrorMessage: message})
}

func (r *Runner) transition(ctx context.Context, job *ledger.Job, to ledger.JobStatus, patch ledger.JobPatch) error {
	_, err := r.apply(ctx, job, to, patch)
	return err
}

// apply moves the job and reports whether this call made the change.
func (r *Runner) apply(ctx context.Context, job *ledger.Job, to ledger.JobStatus, patch ledger.JobPatch) (bool, error) {
	applied, err := r.store.TransitionJob(ctx, job.ID, to, patch)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", job.Status, to, err)
	}
	if applied {
		logging.WithContext(ctx, r.logger).Info("job status changed",
			logging.String("from", string(job.Status)),
			logging.String("to", string(to)),
		)
	}
	return applied, nil
}

// Cancel stops jobID for good: every unfinished sub-job fails as canceled
// and the job fails with CanceledMessage. Terminal jobs are left alone.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	ctx = services.WithJobID(ctx, jobID)
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "cancel", "job "+jobID, nil)
	}
	if job.Status.Terminal() {
		return nil
	}
	canceled := services.Wrap(services.ErrCanceled, "pipeline", "cancel", CanceledMessage, nil)
	if err := r.failOpenSubJobs(ctx, jobID, canceled); err != nil {
		return err
	}
	applied, err := r.apply(ctx, job, ledger.JobFailed, ledger.JobPatch{ErrorMessage: CanceledMessage})
	if err != nil || !applied {
		return err
	}
	r.finish(ctx, job)
	logging.WithContext(ctx, r.logger).Info("job canceled",
		logging.Args(logging.DecisionAttrs("job_cancel", "canceled", "cancellation requested")...)...)
	return nil
}

// failOpenSubJobs fails every sub-job of jobID that is not yet terminal,
// recording cause on the row.
func (r *Runner) failOpenSubJobs(ctx context.Context, jobID string, cause error) error {
	subJobs, err := r.store.ListSubJobs(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list sub-jobs: %w", err)
	}
	now := time.Now().UTC()
	for _, sj := range subJobs {
		if sj.Status.Terminal() {
			continue
		}
		sj.Status = ledger.SubJobFailed
		sj.LastError = cause.Error()
		sj.LastErrorKind = services.Kind(cause)
		sj.CompletedAt = &now
		if _, err := r.store.UpdateSubJob(ctx, sj); err != nil {
			return fmt.Errorf("fail sub-job %d: %w", sj.Index, err)
		}
	}
	return nil
}

// Fail records an unexpected error as the job's terminal failure.
func (r *Runner) Fail(ctx context.Context, jobID string, cause error) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil || job == nil || job.Status.Terminal() {
		return err
	}
	ctx = services.WithJobID(ctx, jobID)
	if err := r.failOpenSubJobs(ctx, jobID, cause); err != nil {
		return err
	}
	applied, err := r.apply(ctx, job, ledger.JobFailed, ledger.JobPatch{ErrorMessage: strings.TrimSpace(cause.Error())})
	if err != nil || !applied {
		return err
	}
	r.finish(ctx, job)
	return nil
}

// finish runs the observational cost check and drops scratch files once a
// job is terminal.
func (r *Runner) finish(ctx context.Context, job *ledger.Job) {
	logger := logging.WithContext(ctx, r.logger)
	if fresh, err := r.store.GetJob(ctx, job.ID); err == nil && fresh != nil {
		job = fresh
	}
	variance := cost.Check(job.CostEstimated, job.CostActual, r.threshold)
	if variance.Flagged != job.CostVarianceFlagged {
		if err := r.store.SetCostVarianceFlag(ctx, job.ID, variance.Flagged); err != nil {
			logger.Warn("failed to persist cost variance flag",
				logging.Error(err),
				logging.String(logging.FieldEventType, "cost_variance_persist_failed"),
				logging.String(logging.FieldErrorHint, "check ledger database access"),
			)
		}
	}
	if variance.Flagged {
		logging.WarnWithContext(logger, "job cost deviates from estimate", "cost_variance",
			logging.Float64("cost_estimated", variance.Estimated),
			logging.Float64("cost_actual", variance.Actual),
			logging.Float64("ratio", variance.Ratio),
			logging.Float64("threshold", r.threshold),
			logging.String(logging.FieldImpact, "none; cost tracking is observational"),
			logging.String(logging.FieldErrorHint, "review pricing table or failed pairs"),
		)
	}
	if r.workDir != "" {
		if err := os.RemoveAll(filepath.Join(r.workDir, job.ID)); err != nil {
			logger.Debug("failed to remove job scratch directory", logging.Error(err))
		}
	}
	logger.Info("job finished",
		logging.String("status", string(job.Status)),
		logging.Float64("cost_actual", job.CostActual),
		logging.Bool("cost_variance_flagged", variance.Flagged),
	)
	if r.stages.Notifier != nil {
		notified := *job
		notified.CostVarianceFlagged = variance.Flagged
		failed := ledger.FailedIndices(r.subJobsQuiet(ctx, job.ID))
		if err := r.stages.Notifier.JobFinished(ctx, notified, failed); err != nil {
			logger.Warn("job notification failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}
}

func (r *Runner) subJobsQuiet(ctx context.Context, jobID string) []ledger.SubJob {
	subJobs, err := r.store.ListSubJobs(ctx, jobID)
	if err != nil {
		return nil
	}
	return subJobs
}
