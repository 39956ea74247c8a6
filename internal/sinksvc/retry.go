package sinksvc

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
)

// RetryOptions configures exponential backoff with jitter and a per-request
// deadline (spec.md §4.4 step 6): delay_n = min(base*2^n, cap), jittered into
// [0.5, 1.0] * delay_n.
type RetryOptions struct {
	Base     time.Duration
	Cap      time.Duration
	Deadline time.Duration
}

// backOff returns delay_n itself, unjittered — RandomizationFactor=0 leaves
// ExponentialBackOff.NextBackOff computing the bare min(base*2^n, cap)
// schedule. upperBoundedJitter wraps it to sample the actual delay.
func (o RetryOptions) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if o.Base > 0 {
		b.InitialInterval = o.Base
	}
	if o.Cap > 0 {
		b.MaxInterval = o.Cap
	}
	b.RandomizationFactor = 0
	b.Multiplier = 2
	return b
}

// upperBoundedJitter adapts an ExponentialBackOff's bare delay_n into the
// [0.5, 1.0]*delay_n range spec.md §4.4 step 6 requires. The library's own
// RandomizationFactor samples symmetrically in [1-f, 1+f]*interval, which can
// exceed delay_n; this type samples only below it.
type upperBoundedJitter struct {
	inner *backoff.ExponentialBackOff
}

func (j upperBoundedJitter) NextBackOff() time.Duration {
	delay := j.inner.NextBackOff()
	if delay == backoff.Stop {
		return delay
	}
	factor := 0.5 + rand.Float64()*0.5 //nolint:gosec // jitter doesn't need crypto rand
	return time.Duration(float64(delay) * factor)
}

// doSend executes sender once with the already built req through the rate limiter and
// concurrency semaphore, then retries on a Transient error per opts until
// the per-request deadline elapses or a non-Transient error/success
// terminates the loop. Returns the per-record status (nil for uniform
// batch outcomes) and the final error, if any.
func doSend(ctx context.Context, opts RetryOptions, limiter *RateLimiter, sem *Semaphore, sender RequestSender, req Request) ([]event.Status, error) {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	op := func() (retryResult, error) {
		if err := limiter.Wait(attemptCtx); err != nil {
			return retryResult{}, backoff.Permanent(err)
		}
		if err := sem.Acquire(attemptCtx); err != nil {
			return retryResult{}, backoff.Permanent(err)
		}
		start := time.Now()
		statuses, sendErr := sender.Send(attemptCtx, req)
		rtt := time.Since(start)
		breached := sendErr != nil && errs.KindOf(sendErr) == errs.Transient
		sem.Release(rtt, breached)

		if sendErr == nil {
			return retryResult{statuses: statuses}, nil
		}
		if errs.KindOf(sendErr) == errs.Transient {
			return retryResult{}, sendErr // retriable: library retries
		}
		return retryResult{}, backoff.Permanent(sendErr)
	}

	result, err := backoff.Retry(attemptCtx, op, backoff.WithBackOff(upperBoundedJitter{inner: opts.backOff()}))
	if err != nil {
		return nil, err
	}
	return result.statuses, nil
}

type retryResult struct {
	statuses []event.Status
}
