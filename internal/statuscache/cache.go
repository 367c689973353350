// Package statuscache keeps short-lived job snapshots in memory in front of
// the job ledger.
package statuscache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/services"
)

// Reader loads a snapshot from the ledger. A nil snapshot with a nil error
// means the job does not exist.
type Reader interface {
	Snapshot(ctx context.Context, jobID string) (*ledger.Snapshot, error)
}

type entry struct {
	snapshot ledger.Snapshot
	storedAt time.Time
}

// Cache is a TTL read-through cache. A TTL <= 0 disables caching and every
// Get reads the ledger.
type Cache struct {
	reader Reader
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	// generation and inflight guard against a slow read repopulating an
	// entry that was invalidated while the read was in flight. Both only
	// hold jobs with reads in progress.
	generation map[string]uint64
	inflight   map[string]int
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a cache over reader.
func New(reader Reader, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Cache{
		reader:     reader,
		ttl:        ttl,
		now:        time.Now,
		logger:     logging.NewComponentLogger(logger, "statuscache"),
		entries:    make(map[string]entry),
		generation: make(map[string]uint64),
		inflight:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the snapshot for jobID, from cache when fresh. Unknown jobs
// return services.ErrNotFound and are not cached.
func (c *Cache) Get(ctx context.Context, jobID string) (*ledger.Snapshot, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, services.Wrap(services.ErrValidation, "status", "get", "job id is required", nil)
	}
	if snap, ok := c.lookup(jobID); ok {
		return snap, nil
	}

	gen := c.begin(jobID)
	snap, err := c.reader.Snapshot(ctx, jobID)
	if err != nil || snap == nil {
		c.end(jobID, gen, nil)
		if err != nil {
			return nil, err
		}
		return nil, services.Wrap(services.ErrNotFound, "status", "get", "job "+jobID, nil)
	}
	c.end(jobID, gen, snap)
	out := cloneSnapshot(*snap)
	return &out, nil
}

// Invalidate drops the cached snapshot for jobID. It is safe to register
// directly as a ledger change hook.
func (c *Cache) Invalidate(jobID string) {
	c.mu.Lock()
	delete(c.entries, jobID)
	if c.inflight[jobID] > 0 {
		c.generation[jobID]++
	}
	c.mu.Unlock()
	c.logger.Debug("status cache invalidated", logging.String(logging.FieldJobID, jobID))
}

// Len reports the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(jobID string) (*ledger.Snapshot, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[jobID]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return nil, false
	}
	out := cloneSnapshot(e.snapshot)
	return &out, true
}

func (c *Cache) begin(jobID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[jobID]++
	return c.generation[jobID]
}

// end finishes a read started by begin and caches snap unless the job was
// invalidated meanwhile. Expired entries are swept on the way.
func (c *Cache) end(jobID string, gen uint64, snap *ledger.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.generation[jobID]
	if c.inflight[jobID]--; c.inflight[jobID] <= 0 {
		delete(c.inflight, jobID)
		delete(c.generation, jobID)
	}
	if snap == nil || c.ttl <= 0 || current != gen {
		return
	}
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, id)
		}
	}
	c.entries[jobID] = entry{snapshot: cloneSnapshot(*snap), storedAt: now}
}

// tracked reports how many jobs hold read bookkeeping.
func (c *Cache) tracked() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.generation) + len(c.inflight)
}

func cloneSnapshot(snap ledger.Snapshot) ledger.Snapshot {
	out := snap
	out.SubJobs = append([]ledger.SubJob(nil), snap.SubJobs...)
	out.Segments = append([]ledger.AudioSegment(nil), snap.Segments...)
	return out
}
