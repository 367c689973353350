package statuscache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"storyreel/internal/ledger"
)

type blockingReader struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingReader) Snapshot(ctx context.Context, jobID string) (*ledger.Snapshot, error) {
	if r.started != nil {
		r.started <- struct{}{}
		<-r.release
	}
	return &ledger.Snapshot{
		Job:     ledger.Job{ID: jobID, Status: ledger.JobPending},
		SubJobs: []ledger.SubJob{{JobID: jobID, Index: 0, Status: ledger.SubJobPending}},
	}, nil
}

func TestReadBookkeepingIsReleased(t *testing.T) {
	c := New(&blockingReader{}, time.Minute, nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("job-%d", i)
		if _, err := c.Get(ctx, id); err != nil {
			t.Fatalf("Get: %v", err)
		}
		c.Invalidate(id)
	}
	if got := c.tracked(); got != 0 {
		t.Fatalf("expected no bookkeeping after reads finished, got %d", got)
	}
	if c.Len() != 0 {
		t.Fatalf("expected invalidated entries to be gone, got %d", c.Len())
	}
}

func TestInvalidateDuringReadSkipsCaching(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	c := New(reader, time.Minute, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "job-1")
		done <- err
	}()
	<-reader.started
	c.Invalidate("job-1")
	close(reader.release)
	if err := <-done; err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("a read overtaken by an invalidation must not be cached")
	}
	if got := c.tracked(); got != 0 {
		t.Fatalf("expected bookkeeping released, got %d", got)
	}
}

func TestExpiredEntriesAreSweptOnStore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := New(&blockingReader{}, time.Second, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	if _, err := c.Get(ctx, "old"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := c.Get(ctx, "new"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected only the fresh entry, got %d", c.Len())
	}
}
