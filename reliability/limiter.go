package reliability

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig controls the two-dimensional token bucket.
type LimiterConfig struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// DefaultLimiterConfig returns a generous default suitable for local
// backends; remote providers should set their own from
// enrichment.providers.<name>.{rpm_limit,tpm_limit}.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{RequestsPerMinute: 60, TokensPerMinute: 100000}
}

// RateLimiter enforces requests-per-minute and tokens-per-minute caps per
// backend using two independent token buckets. Acquire reserves capacity
// for an estimated token count and returns how long the caller should wait
// before issuing the request; Record reconciles the estimate against the
// actual usage once the response is known.
type RateLimiter struct {
	mu       sync.Mutex
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg LimiterConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = 100000
	}
	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	tps := rate.Limit(float64(cfg.TokensPerMinute) / 60.0)
	return &RateLimiter{
		requests: rate.NewLimiter(rps, cfg.RequestsPerMinute),
		tokens:   rate.NewLimiter(tps, cfg.TokensPerMinute),
	}
}

// Acquire reserves one request slot and estimatedTokens token-bucket
// capacity, returning the non-negative delay the caller should sleep
// before issuing the request.
func (l *RateLimiter) Acquire(estimatedTokens int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	reqRes := l.requests.ReserveN(now, 1)
	tokRes := l.tokens.ReserveN(now, max1(estimatedTokens))

	reqDelay := reqRes.DelayFrom(now)
	tokDelay := tokRes.DelayFrom(now)
	if tokDelay > reqDelay {
		return tokDelay
	}
	return reqDelay
}

// Record reconciles the rate limiter's token bucket against the actual
// token usage once a response is known. estimatedTokens is what Acquire
// reserved; if actual usage ran higher, the shortfall is drawn from the
// bucket immediately so the next Acquire call sees accurate remaining
// capacity instead of waiting for the bucket to refill past an
// under-counted reservation.
func (l *RateLimiter) Record(estimatedTokens, actualTokens int) {
	if actualTokens <= estimatedTokens {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens.ReserveN(time.Now(), actualTokens-estimatedTokens)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
