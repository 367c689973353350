// Package dispatch submits one video generation task per pair and polls
// every task to a terminal state.
//
// All sub-jobs of a job run concurrently through a workpool. Each sub-job
// loop is the only writer of its ledger row; the ledger rejects writes that
// would move a terminal row.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/cost"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/provider"
	"storyreel/internal/services"
	"storyreel/internal/workpool"
)

const minPollInterval = 5 * time.Millisecond

// errSuperseded stops a sub-job loop whose row was finished by someone else
// (typically a cancellation).
var errSuperseded = errors.New("sub-job superseded")

// errExhausted stops a sub-job loop after the final retry failed the row.
var errExhausted = errors.New("sub-job retries exhausted")

// Ledger is the subset of *ledger.Store the dispatcher writes through.
type Ledger interface {
	ListSubJobs(ctx context.Context, jobID string) ([]ledger.SubJob, error)
	UpdateSubJob(ctx context.Context, sj ledger.SubJob) (bool, error)
}

// Video submits and polls clip tasks and shapes pair inputs into requests.
type Video interface {
	provider.VideoProvider
	BuildRequest(prompt, startImage, endImage string, durationSeconds float64) (provider.VideoRequest, error)
}

// Resolver turns opaque image references into provider-consumable URLs.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Materializer stores the clip behind a provider result URI.
type Materializer interface {
	Materialize(ctx context.Context, jobID string, index int, resultURI string) (string, error)
}

// Dependencies wires the dispatcher's collaborators.
type Dependencies struct {
	Ledger  Ledger
	Video   Video
	Assets  Resolver
	Clips   Materializer
	Pricing cost.Pricing
}

// Dispatcher fans out sub-jobs and drives each to a terminal state.
type Dispatcher struct {
	store        Ledger
	video        Video
	assets       Resolver
	clips        Materializer
	pricing      cost.Pricing
	pool         *workpool.Pool
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxRetries   int
	backoff      provider.Backoff
	logger       *slog.Logger
}

// New constructs a dispatcher from the dispatch settings.
func New(cfg config.Dispatch, deps Dependencies, logger *slog.Logger) *Dispatcher {
	interval := cfg.PollInterval()
	if interval < minPollInterval {
		interval = minPollInterval
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dispatcher{
		store:        deps.Ledger,
		video:        deps.Video,
		assets:       deps.Assets,
		clips:        deps.Clips,
		pricing:      deps.Pricing,
		pool:         workpool.New(cfg.FanoutWidth),
		pollInterval: interval,
		pollTimeout:  cfg.PollTimeout(),
		maxRetries:   maxRetries,
		backoff:      provider.Backoff{Base: cfg.BackoffBase(), Max: cfg.BackoffMax()},
		logger:       logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Dispatch runs every non-terminal sub-job of jobID to completion and
// returns the resulting sub-jobs. Sub-job failures are recorded on the rows;
// the returned error reports ledger faults and cancellation only.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) ([]ledger.SubJob, error) {
	ctx = services.WithStage(services.WithJobID(ctx, jobID), "dispatch")
	subJobs, err := d.store.ListSubJobs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list sub-jobs: %w", err)
	}
	logger := logging.WithContext(ctx, d.logger)
	logger.Info("dispatching sub-jobs",
		logging.Int("sub_job_count", len(subJobs)),
		logging.Int("fanout_width", d.pool.Width()),
	)

	err = d.pool.Run(ctx, len(subJobs), func(ctx context.Context, i int) error {
		return d.run(ctx, subJobs[i])
	})
	if err != nil {
		return nil, err
	}
	return d.store.ListSubJobs(ctx, jobID)
}

func (d *Dispatcher) run(ctx context.Context, sj ledger.SubJob) error {
	err := d.drive(services.WithSubJobIndex(ctx, sj.Index), &sj)
	if errors.Is(err, errSuperseded) || errors.Is(err, errExhausted) {
		return nil
	}
	return err
}

func (d *Dispatcher) drive(ctx context.Context, sj *ledger.SubJob) error {
	if sj.Status.Terminal() {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sj.ProviderTaskHandle == "" {
			if err := d.submit(ctx, sj); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, errSuperseded) {
					return err
				}
				if services.IsRetryable(err) {
					if err := d.retry(ctx, sj, err); err != nil {
						return err
					}
					continue
				}
				return d.fail(ctx, sj, err)
			}
		}

		resultURI, resubmit, err := d.await(ctx, sj)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, services.ErrTimeout) && services.IsRetryable(err) {
				if resubmit {
					sj.ProviderTaskHandle = ""
					sj.SubmittedAt = nil
				}
				if err := d.retry(ctx, sj, err); err != nil {
					return err
				}
				continue
			}
			return d.fail(ctx, sj, err)
		}

		key, err := d.clips.Materialize(ctx, sj.JobID, sj.Index, resultURI)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sj.ResultURI = resultURI
			return d.fail(ctx, sj, err)
		}
		return d.succeed(ctx, sj, resultURI, key)
	}
}

func (d *Dispatcher) submit(ctx context.Context, sj *ledger.SubJob) error {
	start, err := d.assets.Resolve(sj.Pair.StartImage)
	if err != nil {
		return err
	}
	end, err := d.assets.Resolve(sj.Pair.EndImage)
	if err != nil {
		return err
	}
	req, err := d.video.BuildRequest(sj.Pair.Prompt, start, end, sj.Pair.DurationSeconds)
	if err != nil {
		return err
	}
	handle, err := d.video.Submit(ctx, req)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sj.Status = ledger.SubJobProcessing
	sj.ProviderTaskHandle = handle
	sj.SubmittedAt = &now
	if err := d.save(ctx, sj); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	logging.WithContext(ctx, d.logger).Info("sub-job submitted",
		logging.String("provider_task_handle", handle),
		logging.Int("retry_count", sj.RetryCount),
	)
	return nil
}

// await polls the task until it is terminal. resubmit reports that the
// provider finished the task unsuccessfully, so a retry needs a new task.
func (d *Dispatcher) await(ctx context.Context, sj *ledger.SubJob) (resultURI string, resubmit bool, err error) {
	var deadline time.Time
	if d.pollTimeout > 0 {
		started := time.Now()
		if sj.SubmittedAt != nil {
			started = *sj.SubmittedAt
		}
		deadline = started.Add(d.pollTimeout)
	}
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", false, services.Wrap(services.ErrTimeout, "dispatch", "poll",
				fmt.Sprintf("task %s not finished after %s", sj.ProviderTaskHandle, d.pollTimeout), nil)
		}
		result, err := d.video.Poll(ctx, sj.ProviderTaskHandle)
		if err != nil {
			return "", false, err
		}
		switch result.State {
		case provider.TaskSucceeded:
			if strings.TrimSpace(result.ResultURI) == "" {
				return "", true, services.Wrap(services.ErrTransientProvider, "dispatch", "poll",
					"task succeeded without a result uri", nil)
			}
			return result.ResultURI, false, nil
		case provider.TaskFailed:
			return "", true, provider.TaskError(result)
		}
		if err := d.backoff.Wait(ctx, d.pollInterval); err != nil {
			return "", false, err
		}
	}
}

func (d *Dispatcher) retry(ctx context.Context, sj *ledger.SubJob, cause error) error {
	logger := logging.WithContext(ctx, d.logger)
	if sj.RetryCount >= d.maxRetries {
		logger.Info("sub-job retries exhausted",
			logging.Args(append(logging.DecisionAttrs("sub_job_retry", "give_up", cause.Error()),
				logging.Int("retry_count", sj.RetryCount),
				logging.Int("max_retries", d.maxRetries),
			)...)...)
		if err := d.fail(ctx, sj, fmt.Errorf("retries exhausted after %d attempt(s): %w", sj.RetryCount+1, cause)); err != nil {
			return err
		}
		return errExhausted
	}

	sj.RetryCount++
	sj.Status = ledger.SubJobProcessing
	sj.LastError = cause.Error()
	sj.LastErrorKind = services.Kind(cause)
	if err := d.save(ctx, sj); err != nil {
		return err
	}
	delay := d.backoff.DelayFor(cause, sj.RetryCount)
	logger.Info("sub-job retry scheduled",
		logging.Args(append(logging.DecisionAttrs("sub_job_retry", "retry", cause.Error()),
			logging.Int("retry_count", sj.RetryCount),
			logging.Int("max_retries", d.maxRetries),
			logging.Duration("delay", delay),
		)...)...)
	return d.backoff.Wait(ctx, delay)
}

func (d *Dispatcher) fail(ctx context.Context, sj *ledger.SubJob, cause error) error {
	now := time.Now().UTC()
	sj.Status = ledger.SubJobFailed
	sj.LastError = cause.Error()
	sj.LastErrorKind = services.Kind(cause)
	sj.CompletedAt = &now
	if err := d.save(ctx, sj); err != nil {
		return err
	}
	logging.WarnWithContext(logging.WithContext(ctx, d.logger), "sub-job failed", "sub_job_failed",
		logging.String(logging.FieldErrorKind, sj.LastErrorKind),
		logging.Int("retry_count", sj.RetryCount),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "pair excluded from the combined video"),
		logging.String(logging.FieldErrorHint, hintFor(sj.LastErrorKind)),
	)
	return nil
}

func (d *Dispatcher) succeed(ctx context.Context, sj *ledger.SubJob, resultURI, clipRef string) error {
	now := time.Now().UTC()
	sj.Status = ledger.SubJobSucceeded
	sj.ResultURI = resultURI
	sj.ClipRef = clipRef
	sj.Cost = d.pricing.Clip(sj.Pair.DurationSeconds)
	sj.CompletedAt = &now
	if err := d.save(ctx, sj); err != nil {
		return err
	}
	logging.WithContext(ctx, d.logger).Info("sub-job succeeded",
		logging.String("clip_ref", clipRef),
		logging.Float64("cost", sj.Cost),
		logging.Int("retry_count", sj.RetryCount),
	)
	return nil
}

func (d *Dispatcher) save(ctx context.Context, sj *ledger.SubJob) error {
	applied, err := d.store.UpdateSubJob(ctx, *sj)
	if err != nil {
		return fmt.Errorf("update sub-job %d: %w", sj.Index, err)
	}
	if !applied {
		return errSuperseded
	}
	return nil
}

func hintFor(kind string) string {
	switch kind {
	case services.KindValidation:
		return "check the pair's images, prompt, and duration"
	case services.KindPermanentProvider:
		return "provider rejected the input; adjust the prompt or images"
	case services.KindTimeout:
		return "raise dispatch.poll_timeout_seconds or check provider health"
	case services.KindDownload:
		return "check the provider result url and materialize settings"
	default:
		return "check provider availability and retry settings"
	}
}
