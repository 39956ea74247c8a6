package sinksvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
)

func logArray(n int) *event.EventArray {
	arr := event.NewEventArray(event.KindLog)
	for i := 0; i < n; i++ {
		l := event.NewLog()
		l.Set("i", event.Int64(i))
		arr.Push(event.NewLogEvent(l))
	}
	return arr
}

func TestBatcherFlushesOnMaxEvents(t *testing.T) {
	b := NewBatcher(ConstantPartition("k"), BatchOptions{MaxEvents: 3})
	ready := b.Add(logArray(2), nil)
	require.Empty(t, ready)

	ready = b.Add(logArray(2), nil)
	require.Len(t, ready, 1)
	require.Equal(t, 3, ready[0].Array.Len())

	remaining := b.Flush()
	require.Len(t, remaining, 1)
	require.Equal(t, 1, remaining[0].Array.Len())
}

func TestBatcherFlushesBeforePushThatWouldExceedMaxBytes(t *testing.T) {
	one := logArray(1)
	perEventSize := event.EstimatedEventSize(one.At(0))

	b := NewBatcher(ConstantPartition("k"), BatchOptions{MaxBytes: perEventSize*2 + 1})
	ready := b.Add(logArray(2), nil)
	require.Empty(t, ready, "two events fit within MaxBytes, no flush yet")

	ready = b.Add(logArray(1), nil)
	require.Len(t, ready, 1, "third push would strictly exceed MaxBytes, flushing the first two")
	require.Equal(t, 2, ready[0].Array.Len())

	remaining := b.Flush()
	require.Len(t, remaining, 1)
	require.Equal(t, 1, remaining[0].Array.Len(), "the triggering event starts the next batch")
}

func TestBatcherPartitionsIndependently(t *testing.T) {
	calls := 0
	partition := func(ev *event.Event) string {
		calls++
		l, _ := ev.AsLog()
		v, _ := l.Get("i")
		if int64(v.(event.Int64))%2 == 0 {
			return "even"
		}
		return "odd"
	}
	b := NewBatcher(partition, BatchOptions{MaxEvents: 2})
	ready := b.Add(logArray(4), nil)
	require.Len(t, ready, 2)
	keys := map[string]bool{ready[0].Key: true, ready[1].Key: true}
	require.True(t, keys["even"])
	require.True(t, keys["odd"])
}

func TestBatcherFlushAgedRespectsMaxAge(t *testing.T) {
	b := NewBatcher(ConstantPartition("k"), BatchOptions{MaxAge: 10 * time.Millisecond})
	start := time.Now()
	b.now = func() time.Time { return start }
	b.Add(logArray(1), nil)

	b.now = func() time.Time { return start.Add(5 * time.Millisecond) }
	require.Empty(t, b.FlushAged())

	b.now = func() time.Time { return start.Add(11 * time.Millisecond) }
	ready := b.FlushAged()
	require.Len(t, ready, 1)
}

func TestBatcherFlushReturnsEmptyWhenNothingPending(t *testing.T) {
	b := NewBatcher(ConstantPartition("k"), BatchOptions{MaxEvents: 100})
	require.Empty(t, b.Flush())
}

func TestBatcherAttributesReceiptsAcrossSplitBatches(t *testing.T) {
	calls := 0
	partition := func(ev *event.Event) string {
		calls++
		l, _ := ev.AsLog()
		v, _ := l.Get("i")
		if int64(v.(event.Int64))%2 == 0 {
			return "even"
		}
		return "odd"
	}
	b := NewBatcher(partition, BatchOptions{})
	tracker := newAckTracker()
	receipt := tracker.track(4)

	for _, batch := range b.Add(logArray(4), receipt) {
		t.Fatalf("no trigger configured, expected no flush, got %v", batch)
	}

	for _, batch := range b.Flush() {
		require.Equal(t, 2, batch.Receipts[receipt])
	}
}
