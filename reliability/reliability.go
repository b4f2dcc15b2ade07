// Package reliability wraps a backend adapter with cost control, circuit
// breaking, rate limiting, and retries, composed in that order (outer to
// inner): cost check → circuit breaker → rate limiter → retrier → adapter,
// per spec component C8.
package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/llmc-dev/rag-core/backend"
)

// ErrBudgetExceeded is returned when the cost tracker denies a call before
// any backend is touched.
var ErrBudgetExceeded = errors.New("reliability: budget exceeded")

// ErrCircuitOpen is returned when the breaker is open and fails fast
// without calling the adapter. It is treated as retryable by callers that
// cascade across backends.
var ErrCircuitOpen = errors.New("reliability: circuit open")

// TokenEstimator estimates the token cost of a request before it is sent,
// so the rate limiter and cost tracker can reserve capacity in advance.
type TokenEstimator func(req backend.EnrichmentRequest) (estimatedInputTokens int)

// Wrapped composes the four sub-components around one adapter.
type Wrapped struct {
	adapter   backend.Adapter
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	retrier   *Retrier
	cost      *CostTracker
	estimate  TokenEstimator
	backendID string
}

// Config bundles the sub-component configs for one backend.
type Config struct {
	BackendID string
	Breaker   BreakerConfig
	Limiter   LimiterConfig
	Retry     RetryConfig
	Cost      CostConfig
	Estimate  TokenEstimator
}

// New composes a Wrapped adapter from Config.
func New(adapter backend.Adapter, cfg Config) *Wrapped {
	estimate := cfg.Estimate
	if estimate == nil {
		estimate = func(req backend.EnrichmentRequest) int { return len(req.SpanText) / 4 }
	}
	return &Wrapped{
		adapter:   adapter,
		breaker:   NewCircuitBreaker(cfg.Breaker),
		limiter:   NewRateLimiter(cfg.Limiter),
		retrier:   NewRetrier(cfg.Retry),
		cost:      NewCostTracker(cfg.Cost),
		estimate:  estimate,
		backendID: cfg.BackendID,
	}
}

// Outcome records what happened for the Routing Decision log.
type Outcome struct {
	BackendID    string
	Attempts     int
	Retryable    bool
	InputTokens  int
	OutputTokens int
	EstimatedUSD float64
	Err          error
}

// Call runs req through cost check → circuit breaker → rate limiter →
// retrier → adapter, in that order.
func (w *Wrapped) Call(ctx context.Context, req backend.EnrichmentRequest) (backend.EnrichmentResponse, Outcome, error) {
	estInputTokens := w.estimate(req)
	estUSD := w.cost.EstimateUSD(estInputTokens)

	if !w.cost.Check(estUSD) {
		return backend.EnrichmentResponse{}, Outcome{BackendID: w.backendID, Retryable: false, Err: ErrBudgetExceeded}, ErrBudgetExceeded
	}

	if !w.breaker.Allow() {
		return backend.EnrichmentResponse{}, Outcome{BackendID: w.backendID, Retryable: true, Err: ErrCircuitOpen}, ErrCircuitOpen
	}

	if delay := w.limiter.Acquire(estInputTokens); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return backend.EnrichmentResponse{}, Outcome{BackendID: w.backendID, Err: ctx.Err()}, ctx.Err()
		case <-timer.C:
		}
	}

	var attempts int
	resp, err := w.retrier.Do(ctx, func() (backend.EnrichmentResponse, error) {
		attempts++
		return w.adapter.Call(ctx, req)
	})

	if err != nil {
		w.breaker.RecordFailure()
		retryable := IsRetryable(err)
		return backend.EnrichmentResponse{}, Outcome{
			BackendID: w.backendID,
			Attempts:  attempts,
			Retryable: retryable,
			Err:       err,
		}, err
	}

	w.breaker.RecordSuccess()
	w.limiter.Record(estInputTokens, resp.InputTokens+resp.OutputTokens)
	actualUSD := w.cost.EstimateUSD(resp.InputTokens + resp.OutputTokens)
	w.cost.Record(actualUSD)

	return resp, Outcome{
		BackendID:    w.backendID,
		Attempts:     attempts,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		EstimatedUSD: actualUSD,
	}, nil
}

// IsRetryable classifies an error from the adapter/retrier boundary as
// retryable (timeout, transient network, or a retryable HTTP status) or
// not (auth, quota, model missing, malformed response).
func IsRetryable(err error) bool {
	var be *backend.Error
	if !errors.As(err, &be) {
		return errors.Is(err, ErrCircuitOpen)
	}
	switch be.Kind {
	case backend.KindTimeout, backend.KindTransient:
		return true
	case backend.KindHTTPStatus:
		return retryableStatus(be.StatusCode)
	default:
		return false
	}
}

func retryableStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
