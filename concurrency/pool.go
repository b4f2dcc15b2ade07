package concurrency

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Pool is a fixed-size bounded worker pool. Unlike an unbounded
// goroutine-per-item fan-out, callers cannot oversubscribe it: Go
// blocks once Size workers are busy, so a slicing or embedding stage can
// never spawn more concurrent work than the configured budget allows.
type Pool struct {
	size int
	p    *pool.ContextPool
}

// NewPool creates a pool that runs at most size tasks concurrently. A
// size <= 0 is rejected rather than silently treated as unbounded, since
// an oversubscribed pool defeats the purpose of bounding embedder and
// backend concurrency.
func NewPool(ctx context.Context, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("concurrency: pool size must be positive, got %d", size)
	}
	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(size).
		WithCancelOnError()
	return &Pool{size: size, p: p}, nil
}

// Size returns the pool's configured concurrency budget.
func (p *Pool) Size() int {
	return p.size
}

// Go submits a task to run on the pool. It blocks until a slot is free,
// then returns while the task runs. If any submitted task returns an error, the
// pool's context is canceled so in-flight and not-yet-started tasks can
// observe it and unwind.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.p.Go(fn)
}

// Wait blocks until every submitted task has finished, returning the
// first error any task returned (if any).
func (p *Pool) Wait() error {
	return p.p.Wait()
}
