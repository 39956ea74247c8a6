package buffer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
)

func newArrayWithEvents(n int) *event.EventArray {
	arr := event.NewEventArray(event.KindLog)
	for i := 0; i < n; i++ {
		l := event.NewLog()
		l.Set("i", event.Int64(int64(i)))
		arr.Push(event.NewLogEvent(l))
	}
	return arr
}

func TestMemoryBufferSendRecvRoundTrip(t *testing.T) {
	buf, err := NewMemoryBuffer(MemoryOptions{ComponentID: "c", MaxEvents: 10, Policy: Block})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, newArrayWithEvents(3)))

	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len())
}

func TestMemoryBufferBlockPolicyBlocksUntilSpace(t *testing.T) {
	buf, err := NewMemoryBuffer(MemoryOptions{ComponentID: "c", MaxEvents: 2, Policy: Block})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, newArrayWithEvents(2)))

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- buf.Send(ctx, newArrayWithEvents(1))
	}()

	select {
	case <-sendDone:
		t.Fatal("second send should have blocked with buffer full")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = buf.Recv(ctx)
	require.NoError(t, err)

	select {
	case err := <-sendDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after capacity freed")
	}
}

func TestMemoryBufferDropNewestMarksEventsDropped(t *testing.T) {
	buf, err := NewMemoryBuffer(MemoryOptions{ComponentID: "c", MaxEvents: 1, Policy: DropNewest})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, newArrayWithEvents(1)))

	notifier, done := event.NewBatchNotifier()
	arr := newArrayWithEvents(1)
	arr.At(0).Metadata.AddFinalizer(event.NewFinalizer(notifier))

	require.NoError(t, buf.Send(ctx, arr))

	status := <-done
	require.Equal(t, event.Dropped, status)
}

func TestMemoryBufferOverflowForwardsToInnerSender(t *testing.T) {
	inner, err := NewMemoryBuffer(MemoryOptions{ComponentID: "inner", MaxEvents: 10, Policy: Block})
	require.NoError(t, err)

	outer, err := NewMemoryBuffer(MemoryOptions{ComponentID: "outer", MaxEvents: 1, Policy: Overflow, Overflow: inner})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, outer.Send(ctx, newArrayWithEvents(1)))
	require.NoError(t, outer.Send(ctx, newArrayWithEvents(1)))

	got, err := inner.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
}

func TestMemoryBufferCloseCausesEOFOnceDrained(t *testing.T) {
	buf, err := NewMemoryBuffer(MemoryOptions{ComponentID: "c", MaxEvents: 2, Policy: Block})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, newArrayWithEvents(1)))
	require.NoError(t, buf.Close())

	_, err = buf.Recv(ctx)
	require.NoError(t, err)

	_, err = buf.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)
}
