package sinksvc

import (
	"context"
	"sync"
	"time"
)

// ConcurrencyMode selects the in-flight-request control law (spec.md §4.4
// step 5).
type ConcurrencyMode int

const (
	// ConcurrencyFixed holds a constant in-flight request limit.
	ConcurrencyFixed ConcurrencyMode = iota
	// ConcurrencyAdaptive runs an AIMD control loop driven by observed RTT.
	ConcurrencyAdaptive
)

// ConcurrencyOptions configures a Semaphore.
type ConcurrencyOptions struct {
	Mode ConcurrencyMode

	// Fixed mode.
	Limit int

	// Adaptive mode.
	MinLimit  int
	MaxLimit  int
	Tolerance float64 // fraction above EWMA RTT still counted a success, e.g. 0.1
	EWMAWeight float64 // e.g. 0.1 per spec.md §4.4 step 5
}

// Semaphore is an adaptive in-flight-request limiter. Fixed mode is a plain
// counting semaphore; adaptive mode additionally maintains an EWMA of
// observed RTT and grows/shrinks its permit count via AIMD, mirroring the
// teacher's risk.Manager breach-error structure generalized from a reject
// decision to a permit-count control loop, since this pipeline has no
// trading-domain breach taxonomy to reuse directly.
type Semaphore struct {
	opts ConcurrencyOptions

	mu       sync.Mutex
	limit    int
	inFlight int
	ewmaRTT  time.Duration
	haveRTT  bool
	waiters  []chan struct{}
}

// NewSemaphore constructs a Semaphore from opts, clamping adaptive defaults.
func NewSemaphore(opts ConcurrencyOptions) *Semaphore {
	if opts.Mode == ConcurrencyAdaptive {
		if opts.MinLimit <= 0 {
			opts.MinLimit = 1
		}
		if opts.MaxLimit < opts.MinLimit {
			opts.MaxLimit = opts.MinLimit
		}
		if opts.EWMAWeight <= 0 {
			opts.EWMAWeight = 0.1
		}
		if opts.Tolerance <= 0 {
			opts.Tolerance = 0.1
		}
	}
	limit := opts.Limit
	if opts.Mode == ConcurrencyAdaptive {
		limit = opts.MinLimit
	}
	if limit <= 0 {
		limit = 1
	}
	return &Semaphore{opts: opts, limit: limit}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inFlight < s.limit {
			s.inFlight++
			s.mu.Unlock()
			return nil
		}
		wait := make(chan struct{})
		s.waiters = append(s.waiters, wait)
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns a permit. In adaptive mode, observedRTT and breached
// (timeout, 429, or elevated RTT) drive the AIMD update: a non-breaching
// response within tolerance of the EWMA grows the limit by one (capped at
// MaxLimit); a breach halves it (floored at MinLimit).
func (s *Semaphore) Release(observedRTT time.Duration, breached bool) {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	if s.opts.Mode == ConcurrencyAdaptive {
		s.updateLimitLocked(observedRTT, breached)
	}
	woken := s.wakeOneLocked()
	s.mu.Unlock()
	if woken != nil {
		close(woken)
	}
}

func (s *Semaphore) updateLimitLocked(observedRTT time.Duration, breached bool) {
	if !s.haveRTT {
		s.ewmaRTT = observedRTT
		s.haveRTT = true
	} else {
		w := s.opts.EWMAWeight
		s.ewmaRTT = time.Duration(float64(observedRTT)*w + float64(s.ewmaRTT)*(1-w))
	}

	thresholded := breached || float64(observedRTT) > float64(s.ewmaRTT)*(1+s.opts.Tolerance)
	if thresholded {
		s.limit = max(s.limit/2, s.opts.MinLimit)
		return
	}
	s.limit = min(s.limit+1, s.opts.MaxLimit)
}

// wakeOneLocked pops one waiter to notify, if a permit is now free and any
// waiter is queued. Caller must hold s.mu; the returned channel must be
// closed after unlocking. The woken waiter re-enters Acquire's own
// check-and-increment loop rather than having its permit reserved here, so
// a concurrent Acquire racing in during the unlock window may claim the
// slot first; that only costs fairness, not correctness.
func (s *Semaphore) wakeOneLocked() chan struct{} {
	if len(s.waiters) == 0 || s.inFlight >= s.limit {
		return nil
	}
	w := s.waiters[0]
	s.waiters = s.waiters[1:]
	return w
}

// Limit returns the current permit count, for telemetry.
func (s *Semaphore) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}
