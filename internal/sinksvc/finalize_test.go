package sinksvc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
)

func batchWithFinalizers(n int) (Batch, *event.BatchNotifier, <-chan event.Status) {
	notifier, done := event.NewBatchNotifier()
	arr := event.NewEventArray(event.KindLog)
	for i := 0; i < n; i++ {
		l := event.NewLog()
		ev := event.NewLogEvent(l)
		ev.Metadata.AddFinalizer(event.NewFinalizer(notifier))
		arr.Push(ev)
	}
	return Batch{Key: "k", Array: arr}, notifier, done
}

func TestFinalizeUniformDeliveredOnNilError(t *testing.T) {
	batch, _, done := batchWithFinalizers(2)
	require.NoError(t, finalize(batch, nil, nil))
	require.Equal(t, event.Delivered, <-done)
}

func TestFinalizeUniformRejectedOnPermanentError(t *testing.T) {
	batch, _, done := batchWithFinalizers(2)
	err := errs.New("sinksvc/test", errs.Permanent, errs.WithMessage("bad request"))
	require.NoError(t, finalize(batch, nil, err))
	require.Equal(t, event.Rejected, <-done)
}

func TestFinalizePartialStatusesAppliedPerRecord(t *testing.T) {
	batch, _, done := batchWithFinalizers(2)
	err := finalize(batch, []event.Status{event.Delivered, event.Rejected}, nil)
	require.NoError(t, err)
	// merge-to-lowest across the shared notifier: Rejected is worse than
	// Delivered, so the aggregate status is Rejected.
	require.Equal(t, event.Rejected, <-done)
}

// TestFinalizeMismatchedStatusCountStillResolvesFinalizers checks that a
// malformed per-record statuses slice (a RequestSender bug) reports an error
// but still resolves every finalizer with a uniform fallback status instead
// of leaving them hanging — finalizeAndAck relies on this to keep acking
// later batches even when one batch's sender response is malformed.
func TestFinalizeMismatchedStatusCountStillResolvesFinalizers(t *testing.T) {
	batch, _, done := batchWithFinalizers(2)
	err := finalize(batch, []event.Status{event.Delivered}, nil)
	require.Error(t, err)
	require.Equal(t, event.Rejected, <-done)
}
