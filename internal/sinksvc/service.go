package sinksvc

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/internal/buffer"
	"github.com/coachpo/conduit/lib/telemetry"
)

// ServiceOptions wires the seven sink-service-framework stages (spec.md
// §4.4) into one runnable pipeline. Builder and Sender are sink-supplied;
// everything else is the framework's own implementation.
type ServiceOptions struct {
	ComponentID string
	Partition   PartitionFunc
	Batch       BatchOptions
	Builder     RequestBuilder
	Sender      RequestSender
	RateLimit   RateLimitOptions
	Concurrency ConcurrencyOptions
	Retry       RetryOptions
	Telemetry   telemetry.Telemetry
}

// Service implements topology.SinkRunner: it pulls batches of events off an
// edge buffer and drives them through partition -> batch -> request build
// -> rate limit -> concurrency control -> retry -> finalize.
type Service struct {
	opts    ServiceOptions
	batcher *Batcher
	limiter *RateLimiter
	sem     *Semaphore
}

// NewService constructs a Service ready to Run.
func NewService(opts ServiceOptions) *Service {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop{}
	}
	return &Service{
		opts:    opts,
		batcher: NewBatcher(opts.Partition, opts.Batch),
		limiter: NewRateLimiter(opts.RateLimit),
		sem:     NewSemaphore(opts.Concurrency),
	}
}

const ageFlushInterval = 500 * time.Millisecond

// Run pulls EventArrays from in until it returns an error (context
// cancellation on shutdown drain, or a Fatal buffer error), batching each
// one and dispatching every batch that crosses a count/byte/age threshold
// as its own concurrent request. Each Recv'd EventArray is tracked by an
// ackReceipt across every batch its events end up in, however those
// batches are partitioned or however long they sit accumulating; in.Ack is
// only called from finalizeAndAck, once a batch's terminal delivery status
// is known, and only up to the longest prefix of still-outstanding receipts
// that has fully resolved — so the buffer's reader position advances
// monotonically and never past an event whose delivery outcome isn't yet
// known (spec.md §4.2).
func (s *Service) Run(ctx context.Context, in buffer.Receiver) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	tracker := newAckTracker()

	ticker := time.NewTicker(ageFlushInterval)
	defer ticker.Stop()

	arrCh := make(chan recvResult)
	go s.pump(ctx, in, arrCh)

	for {
		select {
		case <-ctx.Done():
			for _, b := range s.batcher.Flush() {
				s.dispatchAsync(ctx, &wg, in, tracker, b)
			}
			return nil
		case <-ticker.C:
			for _, b := range s.batcher.FlushAged() {
				s.dispatchAsync(ctx, &wg, in, tracker, b)
			}
		case res, ok := <-arrCh:
			if !ok {
				// pump closes without a final result only once ctx is done.
				for _, b := range s.batcher.Flush() {
					s.dispatchAsync(ctx, &wg, in, tracker, b)
				}
				return nil
			}
			if res.err != nil {
				if ctx.Err() != nil {
					for _, b := range s.batcher.Flush() {
						s.dispatchAsync(ctx, &wg, in, tracker, b)
					}
					return nil
				}
				return res.err
			}
			receipt := tracker.track(res.arr.Len())
			for _, b := range s.batcher.Add(res.arr, receipt) {
				s.dispatchAsync(ctx, &wg, in, tracker, b)
			}
		}
	}
}

type recvResult struct {
	arr *event.EventArray
	err error
}

func (s *Service) pump(ctx context.Context, in buffer.Receiver, out chan<- recvResult) {
	defer close(out)
	for {
		arr, err := in.Recv(ctx)
		select {
		case out <- recvResult{arr: arr, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Service) dispatchAsync(ctx context.Context, wg *sync.WaitGroup, in buffer.Receiver, tracker *ackTracker, batch Batch) {
	if batch.Array.Len() == 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(ctx, in, tracker, batch)
	}()
}

func (s *Service) dispatch(ctx context.Context, in buffer.Receiver, tracker *ackTracker, batch Batch) {
	eventCount := batch.Array.Len()
	req, err := s.opts.Builder.Build(batch)
	if err != nil {
		if s.finalizeAndAck(in, tracker, batch, nil, err) {
			event.DefaultPool().PutArray(batch.Array)
		}
		s.opts.Telemetry.ComponentError(s.opts.ComponentID, "request_build", "sinksvc")
		return
	}
	statuses, sendErr := doSend(ctx, s.opts.Retry, s.limiter, s.sem, s.opts.Sender, req)
	if sendErr != nil {
		s.opts.Telemetry.ComponentError(s.opts.ComponentID, "send", "sinksvc")
	}
	if s.finalizeAndAck(in, tracker, batch, statuses, sendErr) {
		s.opts.Telemetry.EventsOut(s.opts.ComponentID, "sink", batch.Key, eventCount)
		event.DefaultPool().PutArray(batch.Array)
	}
}

// finalizeAndAck applies batch's terminal outcome to its events' finalizers
// and, only once that outcome is known, advances the edge buffer's reader
// position for exactly the events this batch accounts for. A Cancelled
// outcome (a builder or sender error of kind errs.Cancelled) leaves
// finalizers and the reader position untouched: the events are still in the
// buffer and will be redelivered. doSend does not turn context cancellation
// into Cancelled; a bare context error classifies as Permanent.
// Returns whether a terminal outcome was actually applied — only then is
// batch.Array safe to hand back to the event pool, since Reset silently
// drops any finalizer that hasn't fired yet.
//
// finalize reports an error only when the sender handed back a malformed
// per-record statuses slice; even then it still applies a uniform fallback
// status to every finalizer, so that error must not stop this batch's
// receipts from being counted — doing so would stall every receipt queued
// behind it in ackTracker's FIFO for the life of the process (spec.md §4.2
// never tolerates a buffer position that stops advancing while sends keep
// succeeding).
func (s *Service) finalizeAndAck(in buffer.Receiver, tracker *ackTracker, batch Batch, statuses []event.Status, sendErr error) bool {
	if statuses == nil {
		if _, apply := classifyStatus(sendErr); !apply {
			return false
		}
	}
	if err := finalize(batch, statuses, sendErr); err != nil {
		s.opts.Telemetry.ComponentError(s.opts.ComponentID, "finalize", "sinksvc")
	}
	ready := 0
	for receipt, count := range batch.Receipts {
		ready += tracker.complete(receipt, count)
	}
	if ready > 0 {
		_ = in.Ack(ready)
	}
	return true
}
