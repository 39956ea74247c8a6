package httpsink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/internal/sinksvc"
)

type fakeReceiver struct {
	arr  *event.EventArray
	sent bool
	done chan struct{}
}

func (f *fakeReceiver) Recv(ctx context.Context) (*event.EventArray, error) {
	if !f.sent {
		f.sent = true
		return f.arr, nil
	}
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeReceiver) Ack(n int) error { return nil }

func logArray(n int) *event.EventArray {
	arr := event.NewEventArray(event.KindLog)
	for i := 0; i < n; i++ {
		l := event.NewLog()
		l.Set("i", event.Int64(i))
		arr.Push(event.NewLogEvent(l))
	}
	return arr
}

func TestSinkPostsBatchesToEndpoint(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(Options{
		ComponentID: "httpsink-test",
		URL:         srv.URL,
		Batch:       sinksvc.BatchOptions{MaxEvents: 2},
		Concurrency: sinksvc.ConcurrencyOptions{Mode: sinksvc.ConcurrencyFixed, Limit: 2},
		Retry:       sinksvc.RetryOptions{Base: time.Millisecond, Deadline: time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	runner, hc, err := sink.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, hc.Healthcheck(ctx))

	recv := &fakeReceiver{arr: logArray(2), done: make(chan struct{})}
	var runErr error
	runDone := make(chan struct{})
	go func() {
		runErr = runner.Run(ctx, recv)
		close(runDone)
	}()

	select {
	case <-recv.done:
	case <-time.After(time.Second):
		t.Fatal("receiver never drained")
	}

	require.Eventually(t, func() bool { return requests.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
	require.NoError(t, runErr)
}

func TestHealthcheckFailsWhenEndpointUnreachable(t *testing.T) {
	sink := New(Options{URL: "http://127.0.0.1:1"})
	_, hc, err := sink.Build(context.Background())
	require.NoError(t, err)
	require.Error(t, hc.Healthcheck(context.Background()))
}
