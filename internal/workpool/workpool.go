// Package workpool runs indexed tasks concurrently with an optional width
// limit.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool fans out tasks. Width <= 0 means every task starts at once.
type Pool struct {
	width int
}

// New returns a pool of the given width.
func New(width int) *Pool {
	return &Pool{width: width}
}

// Width reports the configured limit, 0 when unbounded.
func (p *Pool) Width() int {
	if p == nil || p.width < 0 {
		return 0
	}
	return p.width
}

// Run calls fn for every index in [0, n) and waits for all of them. Tasks
// report domain failures through their own side effects; a returned error
// is an infrastructure fault that cancels the remaining tasks and is
// returned from Run.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, index int) error) error {
	if n <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	if width := p.Width(); width > 0 {
		g.SetLimit(width)
	}
	for i := 0; i < n; i++ {
		index := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, index)
		})
	}
	return g.Wait()
}
