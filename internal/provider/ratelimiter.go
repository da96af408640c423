package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound calls to a data source. Both free feeds
// throttle hard on sustained traffic, so every request goes through Wait
// first.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows bursts of up to burst calls, refilling one call per
// interval after that.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until a call is permitted or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
