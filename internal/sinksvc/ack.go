package sinksvc

import "sync"

// ackReceipt tracks how many events drawn from one buffer.Receiver.Recv call
// remain outstanding across every batch the batcher split them into.
type ackReceipt struct {
	total     int
	remaining int
}

// ackTracker sequences buffer.Receiver.Ack calls. spec.md §4.2 requires the
// reader position to advance only after finalizers report a terminal status,
// and the disk buffer's pending-record FIFO requires Acks to arrive in Recv
// order, so a receipt only leaves the queue once it is both fully resolved
// and at the front — even when later receipts' batches finish sending
// first.
type ackTracker struct {
	mu    sync.Mutex
	queue []*ackReceipt
}

func newAckTracker() *ackTracker {
	return &ackTracker{}
}

// track registers one Recv'd EventArray's event count, returning a receipt
// to attach to every batch its events are partitioned into. Returns nil for
// an empty array; complete is then a no-op for that receipt.
func (t *ackTracker) track(n int) *ackReceipt {
	if n <= 0 {
		return nil
	}
	r := &ackReceipt{total: n, remaining: n}
	t.mu.Lock()
	t.queue = append(t.queue, r)
	t.mu.Unlock()
	return r
}

// complete reports that count of receipt's events reached a terminal
// finalize status, then drains every contiguously-resolved receipt from the
// front of the queue and returns the total event count now safe to Ack.
func (t *ackTracker) complete(receipt *ackReceipt, count int) int {
	if receipt == nil || count <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	receipt.remaining -= count

	ready := 0
	for len(t.queue) > 0 && t.queue[0].remaining <= 0 {
		ready += t.queue[0].total
		t.queue = t.queue[1:]
	}
	return ready
}
