package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"storyreel/internal/config"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/pipeline"
	"storyreel/internal/preflight"
)

// ErrAlreadyRunning reports that another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another storyreel daemon instance is already running")

// CheckFunc runs startup readiness checks.
type CheckFunc func(ctx context.Context, cfg *config.Config) []preflight.Result

// Option customizes a Daemon.
type Option func(*Daemon)

// WithChecks replaces the startup preflight checks.
func WithChecks(fn CheckFunc) Option {
	return func(d *Daemon) {
		if fn != nil {
			d.checks = fn
		}
	}
}

// Daemon runs the pipeline manager under a single-instance lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *ledger.Store
	manager *pipeline.Manager
	checks  CheckFunc

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	ActiveJobs   []string
	PendingJobs  int
	LedgerDriver string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *ledger.Store, manager *pipeline.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, ledger, and pipeline manager")
	}
	if strings.TrimSpace(cfg.Paths.LockPath) == "" {
		return nil, errors.New("daemon requires paths.lock_path")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		checks:   preflight.RunAll,
		lockPath: cfg.Paths.LockPath,
		lock:     flock.New(cfg.Paths.LockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks, and launches the
// manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if failed := preflight.Failed(d.checks(ctx, d.cfg)); len(failed) > 0 {
		_ = d.lock.Unlock()
		for _, r := range failed {
			d.logger.Error("preflight check failed",
				logging.String(logging.FieldEventType, "preflight_failed"),
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
		return fmt.Errorf("preflight failed: %s: %s", failed[0].Name, failed[0].Detail)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start manager: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("storyreel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("ledger_driver", d.store.Driver()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. Jobs in
// flight are left in their current stage and resume on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.Error(err),
		)
	}
	d.running.Store(false)
	d.logger.Info("storyreel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		ActiveJobs:   d.manager.ActiveJobs(),
		LedgerDriver: d.store.Driver(),
		LockFilePath: d.lockPath,
	}
	if pending, err := d.store.ListJobs(ctx, 0, ledger.JobPending); err == nil {
		status.PendingJobs = len(pending)
	}
	return status
}

// LockHeld reports whether a daemon currently holds the lock at path.
func LockHeld(path string) (bool, error) {
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	return false, probe.Unlock()
}
