package concurrency

import "context"

// Stage connects two pipeline phases (e.g. slicing -> storing -> embedding)
// with a bounded channel, so a fast producer cannot run arbitrarily far
// ahead of a slow consumer and exhaust memory on a large repo.
type Stage[T any] struct {
	ch chan T
}

// NewStage creates a bounded handoff channel of the given capacity.
func NewStage[T any](capacity int) *Stage[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Stage[T]{ch: make(chan T, capacity)}
}

// Send delivers v to the stage, blocking if the buffer is full, and
// returns ctx.Err() if ctx is canceled first.
func (s *Stage[T]) Send(ctx context.Context, v T) error {
	select {
	case s.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals that no further values will be sent. Callers must not
// call Send after Close.
func (s *Stage[T]) Close() {
	close(s.ch)
}

// Recv receives the next value, reporting ok=false once the stage is
// closed and drained.
func (s *Stage[T]) Recv(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-s.ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Range calls fn for every value received until the stage closes or ctx
// is canceled, stopping early and returning fn's error if it returns one.
func (s *Stage[T]) Range(ctx context.Context, fn func(T) error) error {
	for {
		v, ok, err := s.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
