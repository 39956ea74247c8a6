package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newLogEventWithField(key string, v Value) *Event {
	l := NewLog()
	l.Set(key, v)
	return NewLogEvent(l)
}

func TestEventArrayLenAndPush(t *testing.T) {
	arr := NewEventArray(KindLog)
	require.Equal(t, 0, arr.Len())

	arr.Push(newLogEventWithField("a", Int64(1)))
	arr.Push(newLogEventWithField("b", Int64(2)))

	require.Equal(t, 2, arr.Len())
}

func TestEventArrayByteSizeIsPositiveAndMonotonic(t *testing.T) {
	arr := NewEventArray(KindLog)
	base := arr.ByteSize()

	arr.Push(newLogEventWithField("a", Bytes("hello world")))
	afterOne := arr.ByteSize()

	arr.Push(newLogEventWithField("b", Bytes("another value")))
	afterTwo := arr.ByteSize()

	require.Greater(t, afterOne, base)
	require.Greater(t, afterTwo, afterOne)
}

func TestEventArrayEstimatedJSONEncodedSizeOfMatchesByteSize(t *testing.T) {
	arr := NewEventArray(KindLog)
	arr.Push(newLogEventWithField("a", Int64(1)))

	require.Equal(t, arr.ByteSize(), arr.EstimatedJSONEncodedSizeOf())
}

func TestEventArraySplitPreservesOwnershipWithoutDuplication(t *testing.T) {
	arr := NewEventArray(KindLog)
	notifier, done := NewBatchNotifier()
	for i := 0; i < 4; i++ {
		ev := newLogEventWithField("i", Int64(int64(i)))
		ev.Metadata.AddFinalizer(NewFinalizer(notifier))
		arr.Push(ev)
	}

	head, tail := arr.Split(2)

	require.Equal(t, 2, head.Len())
	require.Equal(t, 2, tail.Len())

	head.TakeFinalizers().UpdateAll(Delivered)

	select {
	case <-done:
		t.Fatal("notifier fired before tail's finalizers resolved")
	default:
	}

	tail.TakeFinalizers().UpdateAll(Delivered)
	status := <-done
	require.Equal(t, Delivered, status)
}

func TestEventArraySplitClampsOutOfRangeIndex(t *testing.T) {
	arr := NewEventArray(KindLog)
	arr.Push(newLogEventWithField("a", Int64(1)))

	head, tail := arr.Split(100)
	require.Equal(t, 1, head.Len())
	require.Equal(t, 0, tail.Len())

	head, tail = arr.Split(-5)
	require.Equal(t, 0, head.Len())
	require.Equal(t, 1, tail.Len())
}

func TestEventArrayResetClearsEvents(t *testing.T) {
	arr := NewEventArray(KindMetric)
	arr.Push(NewMetricEvent(&Metric{Series: Series{Name: "x"}}))
	arr.Reset()

	require.Equal(t, 0, arr.Len())
	require.Equal(t, KindLog, arr.Kind())
}

func TestEventArrayTakeFinalizersAggregatesAcrossEvents(t *testing.T) {
	arr := NewEventArray(KindLog)
	notifier, _ := NewBatchNotifier()
	for i := 0; i < 3; i++ {
		ev := newLogEventWithField("i", Int64(int64(i)))
		ev.Metadata.AddFinalizer(NewFinalizer(notifier))
		arr.Push(ev)
	}

	all := arr.TakeFinalizers()
	require.Len(t, all, 3)
}
