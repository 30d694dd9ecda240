package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the exchange-reported
// weight usage so callers can see how close they are to a ban threshold.
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastUpdate    time.Time
	resetInterval time.Duration
}

// NewRateLimiter creates a limiter for the given weight budget per interval
// (e.g. 1200/min for Binance spot). Dispatch pacing is derived from the
// budget with a small burst allowance.
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	perSecond := float64(limit) / resetInterval.Seconds()
	return &RateLimiter{
		limiter:       rate.NewLimiter(rate.Limit(perSecond), 10),
		limit:         limit,
		resetInterval: resetInterval,
	}
}

// Wait blocks until the next request may be dispatched or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader records the used weight reported by the exchange.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	rl.usedWeight = weight
	rl.lastUpdate = time.Now()
	limit := rl.limit
	rl.mu.Unlock()

	pct := float64(weight) / float64(limit) * 100
	if pct >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%)", weight, limit, pct)
	} else if pct >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", weight, limit, pct)
	}
}

// Usage returns the last reported weight usage. Stale readings (older than
// the reset interval) count as zero.
func (rl *RateLimiter) Usage() (used, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastUpdate) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}
