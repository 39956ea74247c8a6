package sinksvc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
)

type fakeReceiver struct {
	mu      sync.Mutex
	arrs    []*event.EventArray
	acked   int
	drained chan struct{}
}

func newFakeReceiver(arrs ...*event.EventArray) *fakeReceiver {
	return &fakeReceiver{arrs: arrs, drained: make(chan struct{})}
}

func (f *fakeReceiver) Recv(ctx context.Context) (*event.EventArray, error) {
	f.mu.Lock()
	if len(f.arrs) == 0 {
		f.mu.Unlock()
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	arr := f.arrs[0]
	f.arrs = f.arrs[1:]
	f.mu.Unlock()
	return arr, nil
}

func (f *fakeReceiver) Ack(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked += n
	return nil
}

func (f *fakeReceiver) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

// TestServiceRunBatchesDispatchesAndAcks checks that the reader position
// only advances once a batch's terminal status is known: the Ack count must
// still be zero while the send is in flight, and only reach the full event
// count once every dispatch has actually completed (not merely once events
// were handed to the batcher).
func TestServiceRunBatchesDispatchesAndAcks(t *testing.T) {
	recv := newFakeReceiver(logArray(2), logArray(1))

	release := make(chan struct{})
	var sent atomic.Int32
	builder := RequestBuilderFunc(func(b Batch) (Request, error) {
		return Request{Payload: []byte("x"), Metadata: RequestMetadata{EventCount: b.Array.Len()}}, nil
	})
	sender := RequestSenderFunc(func(ctx context.Context, req Request) ([]event.Status, error) {
		sent.Add(1)
		<-release
		return nil, nil
	})

	svc := NewService(ServiceOptions{
		ComponentID: "sink-test",
		Partition:   ConstantPartition("k"),
		Batch:       BatchOptions{MaxEvents: 3},
		Builder:     builder,
		Sender:      sender,
		Concurrency: ConcurrencyOptions{Mode: ConcurrencyFixed, Limit: 2},
		Retry:       RetryOptions{Base: time.Millisecond, Deadline: time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, recv) }()

	select {
	case <-recv.drained:
	case <-time.After(time.Second):
		t.Fatal("receiver never drained")
	}

	require.Eventually(t, func() bool { return sent.Load() >= 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, recv.ackedCount(), "must not Ack before the in-flight send resolves")

	close(release)
	require.Eventually(t, func() bool { return recv.ackedCount() == 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	require.GreaterOrEqual(t, sent.Load(), int32(1))
}

func TestServiceRunFlushesPartialBatchOnShutdown(t *testing.T) {
	recv := newFakeReceiver(logArray(1))

	var flushedCount atomic.Int32
	builder := RequestBuilderFunc(func(b Batch) (Request, error) {
		flushedCount.Add(int32(b.Array.Len()))
		return Request{}, nil
	})
	sender := RequestSenderFunc(func(ctx context.Context, req Request) ([]event.Status, error) {
		return nil, nil
	})

	svc := NewService(ServiceOptions{
		ComponentID: "sink-test",
		Partition:   ConstantPartition("k"),
		Batch:       BatchOptions{MaxEvents: 100},
		Builder:     builder,
		Sender:      sender,
		Concurrency: ConcurrencyOptions{Mode: ConcurrencyFixed, Limit: 1},
		Retry:       RetryOptions{Base: time.Millisecond, Deadline: time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, recv) }()

	select {
	case <-recv.drained:
	case <-time.After(time.Second):
		t.Fatal("receiver never drained")
	}

	require.Equal(t, 0, recv.ackedCount(), "partial batch must not be acked before it is flushed and sent")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	require.Equal(t, int32(1), flushedCount.Load())
	require.Equal(t, 1, recv.ackedCount(), "the shutdown flush's batch is acked once its send completes")
}
