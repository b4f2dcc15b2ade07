package reliability

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/llmc-dev/rag-core/backend"
)

// RetryConfig controls the retrier's attempt budget and delay curve.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the spec's default: up to 4 attempts, delay
// min(base*2^attempt, cap) plus jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Retrier retries a call only when its error classifies as retryable
// (timeout, transient network, or a retryable HTTP status per spec §4.8).
// Non-retryable failures return immediately after the first attempt.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a Retrier.
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Retrier{cfg: cfg}
}

// Do invokes fn, retrying on retryable errors up to MaxAttempts with
// exponential backoff (base * 2^attempt, capped) plus 10% jitter.
func (r *Retrier) Do(ctx context.Context, fn func() (backend.EnrichmentResponse, error)) (backend.EnrichmentResponse, error) {
	attempt := 0
	operation := func() (backend.EnrichmentResponse, error) {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		attempt++
		if !IsRetryable(err) {
			return backend.EnrichmentResponse{}, backoff.Permanent(err)
		}
		return backend.EnrichmentResponse{}, err
	}

	boCfg := backoff.NewExponentialBackOff()
	boCfg.InitialInterval = r.cfg.BaseDelay
	boCfg.MaxInterval = r.cfg.MaxDelay
	boCfg.RandomizationFactor = 0.1
	boCfg.Multiplier = 2.0

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(boCfg),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return backend.EnrichmentResponse{}, perm.Unwrap()
		}
		return backend.EnrichmentResponse{}, err
	}
	return resp, nil
}

// jitter is exposed for tests that want to verify the delay curve without
// depending on backoff/v5's internal randomization.
func jitter(base time.Duration, attempt int, cap time.Duration) time.Duration {
	d := base * time.Duration(1<<attempt)
	if d > cap {
		d = cap
	}
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}
