package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunUnboundedStartsEveryTask(t *testing.T) {
	const n = 8
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- New(0).Run(context.Background(), n, func(ctx context.Context, index int) error {
			started.Done()
			<-release
			return nil
		})
	}()

	waited := make(chan struct{})
	go func() {
		started.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("expected all tasks to run concurrently")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunRespectsWidth(t *testing.T) {
	var running, peak int32
	err := New(2).Run(context.Background(), 6, func(ctx context.Context, index int) error {
		now := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak)
	}
}

func TestRunCancelsSiblingsOnError(t *testing.T) {
	boom := errors.New("ledger unavailable")
	err := New(0).Run(context.Background(), 3, func(ctx context.Context, index int) error {
		if index == 0 {
			return boom
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("sibling was not canceled")
		}
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error, got %v", err)
	}
}
