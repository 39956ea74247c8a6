package sinksvc

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitOptions configures the token-bucket limiter (spec.md §4.4 step
// 4). RequestsPerSecond <= 0 disables rate limiting entirely.
type RateLimitOptions struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter wraps golang.org/x/time/rate, the teacher's own token-bucket
// dependency (already used in its risk-control package), reused as-is for
// the sink pipeline's outbound request rate.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter constructs a RateLimiter. With RequestsPerSecond <= 0 it
// returns a RateLimiter with no token bucket, whose Wait (like Wait on a nil
// *RateLimiter) passes every request through immediately.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.RequestsPerSecond <= 0 {
		return &RateLimiter{}
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}
