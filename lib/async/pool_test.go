package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPoolRejectsNonPositiveWorkers(t *testing.T) {
	_, err := NewPool(0, 1)
	require.Error(t, err)
}

func TestSubmitRunsTask(t *testing.T) {
	p, err := NewPool(2, 4)
	require.NoError(t, err)
	defer p.Close()

	var ran atomic.Bool
	done := make(chan struct{})
	err = p.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	require.True(t, ran.Load())
}

func TestSubmitAfterCloseReturnsError(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	p.Close()

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestSubmitRejectsNilTask(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	defer p.Close()

	err = p.Submit(context.Background(), nil)
	require.Error(t, err)
}

func TestSubmitAtCapacityReturnsTransientError(t *testing.T) {
	p, err := NewPool(1, 0)
	require.NoError(t, err)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	// the single worker is now blocked; queue depth 0 means the next
	// Submit has nowhere to land.
	var lastErr error
	for i := 0; i < 20; i++ {
		lastErr = p.Submit(context.Background(), func(context.Context) error { return nil })
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)

	close(block)
}

func TestShutdownWaitsForInFlightTasks(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)

	var completed atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		completed.Store(true)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	require.True(t, completed.Load())
}

func TestWorkerSurvivesPanickingTask(t *testing.T) {
	p, err := NewPool(1, 2)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	}))

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.True(t, ran.Load())
}
