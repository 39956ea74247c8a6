package sinksvc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
)

func TestDoSendRetriesTransientErrorsUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	sender := RequestSenderFunc(func(ctx context.Context, req Request) ([]event.Status, error) {
		n := attempts.Add(1)
		if n < 3 {
			return nil, errs.New("test/send", errs.Transient, errs.WithMessage("timeout"))
		}
		return nil, nil
	})

	opts := RetryOptions{Base: time.Millisecond, Cap: 5 * time.Millisecond, Deadline: time.Second}
	limiter := NewRateLimiter(RateLimitOptions{})
	sem := NewSemaphore(ConcurrencyOptions{Mode: ConcurrencyFixed, Limit: 4})

	statuses, err := doSend(context.Background(), opts, limiter, sem, sender, Request{})
	require.NoError(t, err)
	require.Nil(t, statuses)
	require.Equal(t, int32(3), attempts.Load())
}

func TestDoSendStopsImmediatelyOnPermanentError(t *testing.T) {
	var attempts atomic.Int32
	sender := RequestSenderFunc(func(ctx context.Context, req Request) ([]event.Status, error) {
		attempts.Add(1)
		return nil, errs.New("test/send", errs.Permanent, errs.WithMessage("bad request"))
	})

	opts := RetryOptions{Base: time.Millisecond, Cap: 5 * time.Millisecond, Deadline: time.Second}
	limiter := NewRateLimiter(RateLimitOptions{})
	sem := NewSemaphore(ConcurrencyOptions{Mode: ConcurrencyFixed, Limit: 4})

	_, err := doSend(context.Background(), opts, limiter, sem, sender, Request{})
	require.Error(t, err)
	require.Equal(t, int32(1), attempts.Load())
}

func TestDoSendReturnsPerRecordStatusesOnSuccess(t *testing.T) {
	want := []event.Status{event.Delivered, event.Rejected}
	sender := RequestSenderFunc(func(ctx context.Context, req Request) ([]event.Status, error) {
		return want, nil
	})

	opts := RetryOptions{Base: time.Millisecond, Deadline: time.Second}
	limiter := NewRateLimiter(RateLimitOptions{})
	sem := NewSemaphore(ConcurrencyOptions{Mode: ConcurrencyFixed, Limit: 4})

	statuses, err := doSend(context.Background(), opts, limiter, sem, sender, Request{})
	require.NoError(t, err)
	require.Equal(t, want, statuses)
}
