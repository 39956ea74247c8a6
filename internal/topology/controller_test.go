package topology

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/internal/buffer"
)

// fakeSource emits count single-log EventArrays then blocks until ctx is
// cancelled, so Shutdown's drain has something to observe.
type fakeSource struct {
	count     int
	sent      atomic.Int64
	unhealthy atomic.Bool
}

func (f *fakeSource) Run(ctx context.Context, out SourceContext) error {
	for i := 0; i < f.count; i++ {
		arr := event.NewEventArray(event.KindLog)
		l := event.NewLog()
		l.Set("i", event.Int64(i))
		arr.Push(event.NewLogEvent(l))
		if err := out.Send(ctx, arr); err != nil {
			return err
		}
		f.sent.Add(1)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) Healthcheck(ctx context.Context) error {
	if f.unhealthy.Load() {
		return errors.New("unhealthy")
	}
	return nil
}

// fakeSink counts every event it receives from in, acking as it goes, until
// ctx is cancelled or in.Recv returns an error.
type fakeSink struct {
	mu       sync.Mutex
	received int
	done     chan struct{}
	want     int
}

func (f *fakeSink) Build(ctx context.Context) (SinkRunner, Healthchecker, error) {
	return f, f, nil
}

func (f *fakeSink) Run(ctx context.Context, in buffer.Receiver) error {
	for {
		arr, err := in.Recv(ctx)
		if err != nil {
			return nil
		}
		f.mu.Lock()
		f.received += arr.Len()
		reached := f.received >= f.want
		f.mu.Unlock()
		_ = in.Ack(arr.Len())
		if reached && f.done != nil {
			select {
			case <-f.done:
			default:
				close(f.done)
			}
		}
	}
}

func (f *fakeSink) Healthcheck(ctx context.Context) error { return nil }

func TestControllerRunsFullPipelineSourceTransformSink(t *testing.T) {
	src := &fakeSource{count: 5}
	sink := &fakeSink{want: 5, done: make(chan struct{})}

	specs := []ComponentSpec{
		{Key: "src", Source: src, SendsTo: []ComponentKey{"xform"}},
		{
			Key: "xform",
			Transform: &Transform{Function: func(arr *event.EventArray) (*event.EventArray, error) {
				return arr, nil
			}},
			SendsTo: []ComponentKey{"sink"},
		},
		{Key: "sink", Sink: sink},
	}

	c := NewController(nil)
	if err := c.Build(specs); err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sink only received %d/%d events", sink.received, sink.want)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestControllerHealthcheckAggregatesFailures(t *testing.T) {
	srcA := &fakeSource{count: 0}
	srcB := &fakeSource{count: 0}
	srcB.unhealthy.Store(true)
	sinkA := &fakeSink{want: 0, done: make(chan struct{})}

	specs := []ComponentSpec{
		{Key: "srcA", Source: srcA, SendsTo: []ComponentKey{"sinkA"}},
		{Key: "srcB", Source: srcB},
		{Key: "sinkA", Sink: sinkA},
	}

	c := NewController(nil)
	if err := c.Build(specs); err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = c.Shutdown(shutdownCtx)
	}()

	hcCtx, hcCancel := context.WithTimeout(context.Background(), time.Second)
	defer hcCancel()
	if err := c.Healthcheck(hcCtx); err == nil {
		t.Fatal("expected healthcheck error from srcB, got nil")
	}
}

func TestControllerReloadAddsAndRetiresComponents(t *testing.T) {
	src := &fakeSource{count: 0}
	sinkA := &fakeSink{want: 0, done: make(chan struct{})}

	c := NewController(nil)
	initial := []ComponentSpec{
		{Key: "src", Source: src, SendsTo: []ComponentKey{"sinkA"}},
		{Key: "sinkA", Sink: sinkA},
	}
	if err := c.Build(initial); err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = c.Shutdown(shutdownCtx)
	}()

	sinkB := &fakeSink{want: 0, done: make(chan struct{})}
	reloaded := []ComponentSpec{
		{Key: "src", Source: src, SendsTo: []ComponentKey{"sinkB"}},
		{Key: "sinkB", Sink: sinkB},
	}
	if err := c.Reload(ctx, reloaded); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	c.mu.Lock()
	_, hasA := c.running["sinkA"]
	_, hasB := c.running["sinkB"]
	c.mu.Unlock()
	if hasA {
		t.Fatal("expected sinkA retired after reload")
	}
	if !hasB {
		t.Fatal("expected sinkB running after reload")
	}
}
