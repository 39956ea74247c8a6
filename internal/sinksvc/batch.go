package sinksvc

import (
	"sync"
	"time"

	"github.com/coachpo/conduit/core/event"
)

// BatchOptions configures the three independent triggers that flush a
// partition's accumulator (spec.md §4.4 step 2).
type BatchOptions struct {
	MaxEvents int
	MaxBytes  int
	MaxAge    time.Duration
}

// Batch is one partition's accumulated events, ready for request building.
// Receipts counts, per ackReceipt, how many of this batch's events came
// from that Recv'd EventArray — Service sums these through finalize to
// decide when it may advance the edge buffer's reader position.
type Batch struct {
	Key       string
	Array     *event.EventArray
	CreatedAt time.Time
	Receipts  map[*ackReceipt]int
}

type batchState struct {
	array     *event.EventArray
	bytes     int
	createdAt time.Time
	receipts  map[*ackReceipt]int
}

// Batcher accumulates events per partition key, keyed mutation under a
// single mutex, styled after the teacher's conductor.Orchestrator
// (`seq map[string]uint64`) per-key state map.
type Batcher struct {
	partition PartitionFunc
	opts      BatchOptions

	mu     sync.Mutex
	states map[string]*batchState
	now    func() time.Time
}

// NewBatcher constructs a Batcher. opts.MaxEvents/MaxBytes/MaxAge of zero
// disable that trigger (a batch only flushes via the remaining triggers).
func NewBatcher(partition PartitionFunc, opts BatchOptions) *Batcher {
	return &Batcher{
		partition: partition,
		opts:      opts,
		states:    make(map[string]*batchState),
		now:       time.Now,
	}
}

// Add partitions arr event-by-event into per-key accumulators, splitting
// arr by partition key (preserving each event's Kind homogeneity within a
// key's accumulator), and returns every batch that crossed a count or byte
// threshold as a result of this call. receipt (may be nil) is attributed to
// every output batch that ends up holding one of arr's events, so the
// caller can later Ack exactly those events once their batch resolves.
//
// The count and byte triggers flush in opposite directions (spec.md §8): a
// push that reaches MaxEvents flushes the batch it just joined, but a push
// that would strictly exceed MaxBytes flushes the existing accumulator
// first and starts the next batch with that event instead.
func (b *Batcher) Add(arr *event.EventArray, receipt *ackReceipt) []Batch {
	if arr.Len() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kind := arr.Kind()
	var ready []Batch
	for _, ev := range arr.Events() {
		key := b.partition(ev)
		st, ok := b.states[key]
		if !ok {
			st = b.newStateLocked(kind, now)
			b.states[key] = st
		}

		size := event.EstimatedEventSize(ev)
		if b.opts.MaxBytes > 0 && st.array.Len() > 0 && st.bytes+size > b.opts.MaxBytes {
			ready = append(ready, b.popLocked(key))
			st = b.newStateLocked(kind, now)
			b.states[key] = st
		}

		st.array.Push(ev)
		st.bytes += size
		if receipt != nil {
			st.receipts[receipt]++
		}

		if b.opts.MaxEvents > 0 && st.array.Len() >= b.opts.MaxEvents {
			ready = append(ready, b.popLocked(key))
		}
	}
	return ready
}

func (b *Batcher) newStateLocked(kind event.Kind, now time.Time) *batchState {
	return &batchState{
		array:     event.NewEventArray(kind),
		createdAt: now,
		receipts:  make(map[*ackReceipt]int),
	}
}

// FlushAged returns every partition whose oldest pending event has been
// waiting at least opts.MaxAge, without waiting for a count/byte trigger.
// Called by service.go on a periodic tick.
func (b *Batcher) FlushAged() []Batch {
	if b.opts.MaxAge <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var ready []Batch
	for key, st := range b.states {
		if now.Sub(st.createdAt) >= b.opts.MaxAge {
			ready = append(ready, b.popLocked(key))
		}
	}
	return ready
}

// Flush forces out every partial batch regardless of trigger thresholds,
// e.g. during a shutdown drain.
func (b *Batcher) Flush() []Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	ready := make([]Batch, 0, len(b.states))
	for key := range b.states {
		ready = append(ready, b.popLocked(key))
	}
	return ready
}

// popLocked removes and returns the named partition's accumulator as a
// Batch. Caller must hold b.mu.
func (b *Batcher) popLocked(key string) Batch {
	st := b.states[key]
	delete(b.states, key)
	return Batch{Key: key, Array: st.array, CreatedAt: st.createdAt, Receipts: st.receipts}
}
