package pipeline

import (
	"context"
	"errors"
	"time"

	"storyreel/internal/ledger"
	"storyreel/internal/logging"
)

var resumableStatuses = []ledger.JobStatus{
	ledger.JobDispatched,
	ledger.JobCombining,
	ledger.JobAudioComposing,
	ledger.JobMuxing,
}

// Start resumes unfinished jobs and begins claiming pending ones.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	inflight, err := m.store.ListJobs(ctx, 0, resumableStatuses...)
	if err != nil {
		m.Stop()
		return err
	}
	for _, job := range inflight {
		m.logger.Info("resuming job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
		)
		m.launch(runCtx, job.ID)
	}

	m.wg.Add(1)
	go m.claimLoop(runCtx)
	return nil
}

// Stop cancels running jobs and waits for them to return. Interrupted jobs
// keep their status and resume on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// RunJob executes jobID in the caller's goroutine and returns once it is
// terminal or ctx ends.
func (m *Manager) RunJob(ctx context.Context, jobID string) error {
	return m.execute(ctx, jobID)
}

// Wait blocks until jobID is terminal, polling at interval.
func (m *Manager) Wait(ctx context.Context, jobID string, interval time.Duration) (Status, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		status, err := m.GetJobStatus(ctx, jobID)
		if err != nil {
			return Status{}, err
		}
		if status.Status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (m *Manager) launch(ctx context.Context, jobID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-m.slots }()
		_ = m.execute(ctx, jobID)
	}()
}

func (m *Manager) claimLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		m.claimAvailable(ctx)
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(m.claimInterval):
		}
	}
}

// claimAvailable claims pending jobs while execution slots are free.
func (m *Manager) claimAvailable(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case m.slots <- struct{}{}:
		default:
			return
		}
		job, err := m.store.ClaimPending(ctx)
		if err != nil || job == nil {
			<-m.slots
			if err != nil && ctx.Err() == nil {
				logging.ErrorWithContext(m.logger, "failed to claim pending job", "job_claim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check ledger database access"),
				)
			}
			return
		}
		m.logger.Info("job claimed", logging.String(logging.FieldJobID, job.ID))
		m.wg.Add(1)
		go func(id string) {
			defer m.wg.Done()
			defer func() { <-m.slots }()
			_ = m.execute(ctx, id)
		}(job.ID)
	}
}

func (m *Manager) execute(ctx context.Context, jobID string) error {
	logger := m.logger.With(logging.String(logging.FieldJobID, jobID))
	detached := context.WithoutCancel(ctx)

	if requested, err := m.store.CancelRequested(ctx, jobID); err == nil && requested {
		return m.runner.Cancel(detached, jobID)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(jobID, cancel)
	defer m.untrack(jobID)
	go m.watchCancel(jobCtx, jobID, cancel)

	err := m.runner.Run(jobCtx, jobID)
	if err == nil {
		return nil
	}
	if requested, cerr := m.store.CancelRequested(detached, jobID); cerr == nil && requested {
		return m.runner.Cancel(detached, jobID)
	}
	if ctx.Err() != nil {
		logger.Info("job interrupted; it will resume on next start",
			logging.Args(logging.DecisionAttrs("job_interrupt", "resume_later", "shutdown")...)...)
		return ctx.Err()
	}
	logging.ErrorWithContext(logger, "job aborted", "job_aborted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check ledger database access and logs"),
	)
	if ferr := m.runner.Fail(detached, jobID, err); ferr != nil {
		logger.Warn("failed to record job failure",
			logging.Error(ferr),
			logging.String(logging.FieldEventType, "job_failure_persist_failed"),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
		)
	}
	return err
}

// watchCancel polls the ledger flag so cancellation requested from another
// process reaches this job.
func (m *Manager) watchCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(m.cancelCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := m.store.CancelRequested(ctx, jobID)
			if err == nil && requested {
				cancel()
				return
			}
		}
	}
}

func (m *Manager) track(jobID string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.active[jobID] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrack(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

// ActiveJobs returns the ids currently executing in this process.
func (m *Manager) ActiveJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
