package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llmc-dev/rag-core/backend"
)

type fakeAdapter struct {
	calls   int
	results []error
}

func (f *fakeAdapter) Call(ctx context.Context, req backend.EnrichmentRequest) (backend.EnrichmentResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.results) && f.results[idx] != nil {
		return backend.EnrichmentResponse{}, f.results[idx]
	}
	return backend.EnrichmentResponse{Summary: "ok", InputTokens: 10, OutputTokens: 5}, nil
}

func fastConfig() Config {
	return Config{
		BackendID: "test",
		Breaker:   BreakerConfig{FailureThreshold: 2, Cooldown: 10 * time.Millisecond},
		Limiter:   LimiterConfig{RequestsPerMinute: 1000000, TokensPerMinute: 1000000000},
		Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Cost:      CostConfig{USDPerToken: 0.000001},
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("expected breaker to stay closed after 1 failure")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected breaker to open after 2 consecutive failures")
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Millisecond})
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected breaker open immediately after threshold failure")
	}
	time.Sleep(5 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected breaker to allow one half-open probe after cooldown")
	}
	b.RecordSuccess()
	if !b.Allow() || b.IsOpen() {
		t.Fatal("expected breaker to close after a half-open success")
	}
}

func TestRetrierRetriesRetryableErrors(t *testing.T) {
	adapter := &fakeAdapter{results: []error{
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
		nil,
	}}
	r := NewRetrier(RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := r.Do(context.Background(), func() (backend.EnrichmentResponse, error) {
		return adapter.Call(context.Background(), backend.EnrichmentRequest{})
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if adapter.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", adapter.calls)
	}
}

func TestRetrierDoesNotRetryNonRetryableErrors(t *testing.T) {
	adapter := &fakeAdapter{results: []error{&backend.Error{Kind: backend.KindAuthDenied}}}
	r := NewRetrier(RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := r.Do(context.Background(), func() (backend.EnrichmentResponse, error) {
		return adapter.Call(context.Background(), backend.EnrichmentRequest{})
	})
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
	if adapter.calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", adapter.calls)
	}
}

func TestIsRetryableClassifiesHTTPStatus(t *testing.T) {
	if !IsRetryable(&backend.Error{Kind: backend.KindHTTPStatus, StatusCode: 503}) {
		t.Fatal("expected 503 to be retryable")
	}
	if IsRetryable(&backend.Error{Kind: backend.KindHTTPStatus, StatusCode: 400}) {
		t.Fatal("expected 400 to be non-retryable")
	}
	if IsRetryable(&backend.Error{Kind: backend.KindAuthDenied}) {
		t.Fatal("expected auth denied to be non-retryable")
	}
}

func TestCostTrackerDeniesOverDailyCap(t *testing.T) {
	c := NewCostTracker(CostConfig{DailyCapUSD: 0.01, USDPerToken: 1})
	if !c.Check(0.008) {
		t.Fatal("expected first small charge to be allowed")
	}
	c.Record(0.008)
	if c.Check(0.008) {
		t.Fatal("expected second charge to exceed the daily cap and be denied")
	}
}

func TestWrappedCallDeniesWhenBudgetExceeded(t *testing.T) {
	adapter := &fakeAdapter{}
	cfg := fastConfig()
	cfg.Cost = CostConfig{DailyCapUSD: 0.000001, USDPerToken: 1}
	w := New(adapter, cfg)
	_, _, err := w.Call(context.Background(), backend.EnrichmentRequest{SpanText: "some text here"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if adapter.calls != 0 {
		t.Fatal("expected adapter never to be called when budget check fails")
	}
}

func TestWrappedCallSucceeds(t *testing.T) {
	adapter := &fakeAdapter{}
	w := New(adapter, fastConfig())
	resp, outcome, err := w.Call(context.Background(), backend.EnrichmentRequest{SpanText: "hello world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Summary != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt on success, got %d", outcome.Attempts)
	}
}

func TestWrappedCallFailsFastWhenCircuitOpen(t *testing.T) {
	adapter := &fakeAdapter{results: []error{
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
		&backend.Error{Kind: backend.KindTransient},
	}}
	cfg := fastConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}
	cfg.Retry = RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	w := New(adapter, cfg)

	if _, _, err := w.Call(context.Background(), backend.EnrichmentRequest{}); err == nil {
		t.Fatal("expected first call to fail")
	}
	callsAfterFirst := adapter.calls

	_, _, err := w.Call(context.Background(), backend.EnrichmentRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen on second call, got %v", err)
	}
	if adapter.calls != callsAfterFirst {
		t.Fatal("expected adapter not to be called while circuit is open")
	}
}
