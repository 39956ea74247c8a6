// Package async provides a bounded worker pool for delegating blocking
// work (disk fsync, file rotation, DNS) off executor goroutines, per the
// concurrency model's "no blocking syscalls on executor goroutines" rule.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/conduit/errs"
)

// Task represents a unit of blocking work executed by the pool.
type Task func(context.Context) error

// Pool is a bounded worker pool enforcing backpressure when saturated.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.Permanent, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn for execution, respecting pool backpressure. It
// returns a Transient error if the queue is full, ctx's error (wrapped) if
// ctx is already done, and a Permanent error once the pool has been closed.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async/submit", errs.Permanent, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.ctx.Err() != nil {
		return errs.New("lib/async/submit", errs.Permanent, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async/submit", errs.Permanent, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async/submit", errs.Transient, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels workers.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.jobs)
	})
}

// Shutdown waits for in-flight tasks to complete, or until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			ctx := j.ctx
			if ctx == nil {
				ctx = p.ctx
			}
			p.run(ctx, j.fn)
			p.wg.Done()
		}
	}
}

func (p *Pool) run(ctx context.Context, fn Task) {
	defer func() {
		_ = recover()
	}()
	_ = fn(ctx)
}
