package buffer

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
	"github.com/coachpo/conduit/lib/telemetry"
)

// MemoryBuffer is a bounded multi-producer single-consumer queue of
// EventArrays, capacity measured in events. It is grounded on the
// teacher's bounded channel + mutex-protected accounting style
// (internal/bus/eventbus, internal/bus/databus), narrowed from pub/sub
// fan-out to a single producer/single consumer edge.
type MemoryBuffer struct {
	componentID string
	telemetry   telemetry.Telemetry

	policy   WhenFull
	overflow Sender

	sem  *eventSemaphore
	data chan *event.EventArray

	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// MemoryOptions configures a MemoryBuffer.
type MemoryOptions struct {
	ComponentID string
	MaxEvents   int
	Policy      WhenFull
	// Overflow is required when Policy is Overflow; Send forwards to it
	// once the memory buffer's own capacity is exhausted.
	Overflow  Sender
	Telemetry telemetry.Telemetry
}

// NewMemoryBuffer constructs a bounded memory buffer. MaxEvents must be
// positive.
func NewMemoryBuffer(opts MemoryOptions) (*MemoryBuffer, error) {
	if opts.MaxEvents <= 0 {
		return nil, errs.New("buffer/memory/new", errs.Permanent, errs.WithMessage("max_events must be >0"))
	}
	if opts.Policy == Overflow && opts.Overflow == nil {
		return nil, errs.New("buffer/memory/new", errs.Permanent, errs.WithMessage("overflow policy requires an overflow target"))
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop{}
	}
	return &MemoryBuffer{
		componentID: opts.ComponentID,
		telemetry:   tel,
		policy:      opts.Policy,
		overflow:    opts.Overflow,
		sem:         newEventSemaphore(opts.MaxEvents),
		data:        make(chan *event.EventArray, opts.MaxEvents),
	}, nil
}

// Send admits arr per the buffer's WhenFull policy.
func (b *MemoryBuffer) Send(ctx context.Context, arr *event.EventArray) error {
	if arr == nil || arr.Len() == 0 {
		return nil
	}
	n := arr.Len()

	switch b.policy {
	case Block:
		if err := b.sem.acquire(ctx, n); err != nil {
			return err
		}
		return b.enqueueBlocking(ctx, arr, n)
	case DropNewest:
		if !b.sem.tryAcquire(n) {
			arr.TakeFinalizers().UpdateAll(event.Dropped)
			b.telemetry.DiscardedEvents(b.componentID, "buffer_full", n)
			return nil
		}
		return b.enqueue(arr, n)
	case Overflow:
		if !b.sem.tryAcquire(n) {
			return b.overflow.Send(ctx, arr)
		}
		return b.enqueue(arr, n)
	default:
		return errs.New("buffer/memory/send", errs.Permanent, errs.WithMessage("unknown when-full policy"))
	}
}

func (b *MemoryBuffer) enqueueBlocking(ctx context.Context, arr *event.EventArray, n int) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		b.sem.release(n)
		return errs.New("buffer/memory/send", errs.Permanent, errs.WithMessage("buffer closed"))
	}
	select {
	case b.data <- arr:
		b.reportGauges()
		return nil
	case <-ctx.Done():
		b.sem.release(n)
		return ctx.Err()
	}
}

func (b *MemoryBuffer) enqueue(arr *event.EventArray, n int) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		b.sem.release(n)
		return errs.New("buffer/memory/send", errs.Permanent, errs.WithMessage("buffer closed"))
	}
	b.data <- arr
	b.reportGauges()
	return nil
}

// Recv returns the next EventArray, suspending until one is available or
// ctx is done.
func (b *MemoryBuffer) Recv(ctx context.Context) (*event.EventArray, error) {
	select {
	case arr, ok := <-b.data:
		if !ok {
			return nil, io.EOF
		}
		b.sem.release(arr.Len())
		b.reportGauges()
		return arr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: a memory buffer has no persisted reader position to
// advance.
func (b *MemoryBuffer) Ack(int) error { return nil }

// Close marks the buffer closed; pending Sends fail, the data channel is
// drained naturally by Recv returning io.EOF once empty.
func (b *MemoryBuffer) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.mu.Lock()
		defer b.mu.Unlock()
		close(b.data)
	})
	return nil
}

func (b *MemoryBuffer) reportGauges() {
	b.telemetry.SetBufferEvents(b.componentID, int64(len(b.data)))
}
