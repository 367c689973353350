package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/cost"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/services"
	"storyreel/internal/statuscache"
)

// JobRequest is a submission accepted by CreateJob.
type JobRequest struct {
	Title       string
	MusicPrompt string
	// NoAudio delivers the job without a composed track even when the music
	// provider is enabled.
	NoAudio bool
	Pairs   []ledger.Pair
}

// Manager owns job submission, status reads, cancellation and the daemon
// loop that executes jobs.
type Manager struct {
	cfg           *config.Config
	store         *ledger.Store
	runner        *Runner
	cache         *statuscache.Cache
	pricing       cost.Pricing
	logger        *slog.Logger
	claimInterval time.Duration
	cancelCheck   time.Duration
	slots         chan struct{}
	wake          chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]context.CancelFunc
}

// NewManager constructs a manager around runner. The status cache is kept
// coherent through the ledger's change hook.
func NewManager(cfg *config.Config, store *ledger.Store, runner *Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	cache := statuscache.New(store, cfg.Cache.StatusTTL(), logger)
	store.OnChange(cache.Invalidate)

	claim := cfg.Workflow.ClaimInterval()
	if claim <= 0 {
		claim = time.Second
	}
	check := cfg.Workflow.CancelCheckInterval()
	if check <= 0 {
		check = time.Second
	}
	width := cfg.Workflow.MaxConcurrentJobs
	if width <= 0 {
		width = 1
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		runner:        runner,
		cache:         cache,
		pricing:       cost.NewPricing(cfg.Cost),
		logger:        logging.NewComponentLogger(logger, "manager"),
		claimInterval: claim,
		cancelCheck:   check,
		slots:         make(chan struct{}, width),
		wake:          make(chan struct{}, 1),
		active:        make(map[string]context.CancelFunc),
	}
}

// CreateJob validates and records a submission atomically: the job and all
// of its sub-jobs, or nothing. The job starts pending.
func (m *Manager) CreateJob(ctx context.Context, req JobRequest) (string, error) {
	if err := m.validate(req); err != nil {
		return "", err
	}
	audio := m.cfg.MusicProvider.Enabled && !req.NoAudio
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "untitled"
	}
	snap, err := m.store.CreateJob(ctx, ledger.NewJob{
		Title:         title,
		MusicPrompt:   strings.TrimSpace(req.MusicPrompt),
		AudioEnabled:  audio,
		CostEstimated: m.pricing.Estimate(req.Pairs, audio),
		Pairs:         req.Pairs,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidJob) {
			return "", services.Wrap(services.ErrValidation, "pipeline", "create job", "", err)
		}
		return "", err
	}
	m.logger.Info("job created",
		logging.String(logging.FieldJobID, snap.Job.ID),
		logging.Int("pair_count", len(snap.SubJobs)),
		logging.Bool("audio_enabled", audio),
		logging.Float64("cost_estimated", snap.Job.CostEstimated),
	)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return snap.Job.ID, nil
}

func (m *Manager) validate(req JobRequest) error {
	if len(req.Pairs) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "create job", "at least one pair is required", nil)
	}
	maxClip := float64(m.cfg.VideoProvider.MaxClipSeconds)
	for i, pair := range req.Pairs {
		if strings.TrimSpace(pair.StartImage) == "" || strings.TrimSpace(pair.EndImage) == "" {
			return services.Wrap(services.ErrValidation, "pipeline", "create job",
				fmt.Sprintf("pair %d: start and end images are required", i), nil)
		}
		if pair.DurationSeconds <= 0 {
			return services.Wrap(services.ErrValidation, "pipeline", "create job",
				fmt.Sprintf("pair %d: duration must be positive", i), nil)
		}
		if maxClip > 0 && pair.DurationSeconds > maxClip {
			return services.Wrap(services.ErrValidation, "pipeline", "create job",
				fmt.Sprintf("pair %d: duration %gs exceeds provider maximum %gs", i, pair.DurationSeconds, maxClip), nil)
		}
	}
	return nil
}

// GetJobStatus returns the job's current status through the status cache.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string) (Status, error) {
	snap, err := m.cache.Get(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	return NewStatus(*snap), nil
}

// CancelJob requests cancellation. Jobs running in this process stop at once;
// jobs running elsewhere stop at their next cancellation check; jobs that
// have not started are failed immediately. Cancelling a finished job is a
// no-op.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "cancel", "job "+jobID, nil)
	}
	if job.Status.Terminal() {
		return nil
	}
	if _, err := m.store.RequestCancel(ctx, jobID); err != nil {
		return err
	}

	m.mu.Lock()
	cancel, local := m.active[jobID]
	m.mu.Unlock()
	if local {
		cancel()
		return nil
	}
	if job.Status == ledger.JobPending {
		return m.runner.Cancel(ctx, jobID)
	}
	m.logger.Info("cancellation requested for job running elsewhere",
		logging.String(logging.FieldJobID, jobID),
		logging.String("status", string(job.Status)),
	)
	return nil
}

// Store exposes the ledger for read-only CLI views.
func (m *Manager) Store() *ledger.Store {
	return m.store
}
