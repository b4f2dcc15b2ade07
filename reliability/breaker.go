package reliability

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig controls the circuit breaker's transition thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // open duration before trying half-open
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// CircuitBreaker implements the closed/open/half-open state machine: closed
// to open after K consecutive failures, open to half-open after a cooldown,
// half-open to closed on one success or back to open on any failure. While
// open, Allow reports false without touching the adapter.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       breakerState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: stateClosed}
}

// Allow reports whether a call may proceed, transitioning open to
// half-open once the cooldown has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return true
}

// RecordSuccess reports a successful call: half-open closes the circuit;
// closed resets the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
}

// RecordFailure reports a failed call: half-open reopens immediately;
// closed opens once FailureThreshold consecutive failures accumulate.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// IsOpen reports whether the breaker is currently refusing calls, without
// triggering the open-to-half-open transition that Allow performs.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen
}
