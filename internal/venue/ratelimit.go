// ratelimit.go implements rate limiting for a venue's REST API, grouped by
// operation class (orders, cancels, position queries), on top of
// golang.org/x/time/rate's token-bucket limiter.
package venue

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket wraps a rate.Limiter. Callers block in Wait() until a token
// is available or the context is cancelled.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate, in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(capacity)),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}

// RateLimiter groups token buckets by REST operation class.
type RateLimiter struct {
	Order         *TokenBucket // POST post-only / market orders
	Cancel        *TokenBucket // cancel requests
	PositionQuery *TokenBucket // authoritative position re-query
}

// NewRateLimiter creates a rate limiter with conservative per-class defaults.
// Venue-specific limits belong in configuration; these are safe fallbacks
// for a single-symbol, single-account engine.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:         NewTokenBucket(20, 5),
		Cancel:        NewTokenBucket(20, 5),
		PositionQuery: NewTokenBucket(10, 2),
	}
}
