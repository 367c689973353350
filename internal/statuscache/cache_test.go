package statuscache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/services"
	"storyreel/internal/statuscache"
	"storyreel/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*ledger.Store, *statuscache.Cache, *fakeClock, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := statuscache.New(store, 2*time.Second, logging.NewNop(), statuscache.WithClock(clock.Now))
	store.OnChange(cache.Invalidate)

	snap, err := store.CreateJob(context.Background(), ledger.NewJob{Title: "cache", Pairs: testsupport.Pairs(2, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return store, cache, clock, snap.Job.ID
}

func TestReadAfterWriteIsFresh(t *testing.T) {
	store, cache, _, jobID := setup(t)
	ctx := context.Background()

	snap, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Job.Status != ledger.JobPending {
		t.Fatalf("expected pending, got %s", snap.Job.Status)
	}
	if _, err := store.TransitionJob(ctx, jobID, ledger.JobDispatched, ledger.JobPatch{}); err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	snap, err = cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Job.Status != ledger.JobDispatched {
		t.Fatalf("expected dispatched after write, got %s", snap.Job.Status)
	}
}

func TestHitWithinTTLSurvivesLedgerOutage(t *testing.T) {
	store, cache, clock, jobID := setup(t)
	ctx := context.Background()

	first, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	clock.Advance(time.Second)
	second, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("expected cached snapshot while ledger is down, got %v", err)
	}
	if second.Job.ID != first.Job.ID || second.Job.Status != first.Job.Status {
		t.Fatalf("cached snapshot differs: %+v vs %+v", second.Job, first.Job)
	}

	clock.Advance(2 * time.Second)
	if _, err := cache.Get(ctx, jobID); err == nil {
		t.Fatal("expected expired entry to read through to the closed ledger")
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	_, cache, _, _ := setup(t)
	_, err := cache.Get(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("unexpected cache size %d", cache.Len())
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	cache := statuscache.New(store, 0, logging.NewNop())
	snap, err := store.CreateJob(context.Background(), ledger.NewJob{Title: "nocache", Pairs: testsupport.Pairs(1, 6)})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := cache.Get(context.Background(), snap.Job.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected nothing cached, got %d", cache.Len())
	}
}

func TestCallersCannotMutateCachedSnapshot(t *testing.T) {
	_, cache, _, jobID := setup(t)
	ctx := context.Background()

	first, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.SubJobs[0].Status = ledger.SubJobSucceeded
	first.SubJobs = append(first.SubJobs[:0], first.SubJobs[1:]...)

	second, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(second.SubJobs) != 2 {
		t.Fatalf("expected 2 sub-jobs, got %d", len(second.SubJobs))
	}
	for _, sj := range second.SubJobs {
		if sj.Status != ledger.SubJobPending {
			t.Fatalf("cached sub-job %d changed to %s", sj.Index, sj.Status)
		}
	}
}
