package reliability

import (
	"sync"
	"time"
)

// CostConfig sets the daily/monthly spend ceilings and the per-token price
// used to translate token counts into dollars.
type CostConfig struct {
	DailyCapUSD   float64
	MonthlyCapUSD float64
	USDPerToken   float64
}

// DefaultCostConfig returns an effectively unlimited tracker; callers
// should set real caps from enrichment.daily_cost_cap_usd /
// monthly_cost_cap_usd.
func DefaultCostConfig() CostConfig {
	return CostConfig{DailyCapUSD: 0, MonthlyCapUSD: 0, USDPerToken: 0.000002}
}

// CostTracker maintains running daily and monthly spend totals per
// backend, resetting at UTC day/month boundaries by wall clock.
type CostTracker struct {
	mu        sync.Mutex
	cfg       CostConfig
	dayTotal  float64
	dayStamp  string
	monthTotal float64
	monthStamp string
	now       func() time.Time
}

// NewCostTracker creates a tracker from cfg.
func NewCostTracker(cfg CostConfig) *CostTracker {
	if cfg.USDPerToken <= 0 {
		cfg.USDPerToken = 0.000002
	}
	return &CostTracker{cfg: cfg, now: time.Now}
}

// EstimateUSD converts a token count into an estimated dollar cost.
func (c *CostTracker) EstimateUSD(tokens int) float64 {
	return float64(tokens) * c.cfg.USDPerToken
}

// Check reports whether spending an additional estimatedUSD would stay
// within both the daily and monthly caps. A zero cap means "no limit" for
// that dimension.
func (c *CostTracker) Check(estimatedUSD float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()

	if c.cfg.DailyCapUSD > 0 && c.dayTotal+estimatedUSD > c.cfg.DailyCapUSD {
		return false
	}
	if c.cfg.MonthlyCapUSD > 0 && c.monthTotal+estimatedUSD > c.cfg.MonthlyCapUSD {
		return false
	}
	return true
}

// Record adds actualUSD to the running daily and monthly totals.
func (c *CostTracker) Record(actualUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	c.dayTotal += actualUSD
	c.monthTotal += actualUSD
}

// rollover resets the daily/monthly totals when the wall-clock UTC day or
// month has advanced since the last call. Must be called with mu held.
func (c *CostTracker) rollover() {
	now := c.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	if c.dayStamp != day {
		c.dayStamp = day
		c.dayTotal = 0
	}
	if c.monthStamp != month {
		c.monthStamp = month
		c.monthTotal = 0
	}
}
