package sinksvc

import (
	"fmt"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
)

// classifyStatus maps an errs.Kind to the terminal Status a finalizer
// receives (spec.md §7): Transient exhausted retries -> Errored, Permanent
// -> Rejected, Poison -> Rejected, Cancelled leaves the finalizer untouched
// by returning false.
func classifyStatus(err error) (event.Status, bool) {
	if err == nil {
		return event.Delivered, true
	}
	switch errs.KindOf(err) {
	case errs.Transient:
		return event.Errored, true
	case errs.Permanent, errs.Poison:
		return event.Rejected, true
	case errs.Cancelled:
		return event.Status(0), false
	default:
		return event.Rejected, true
	}
}

// finalize applies the terminal outcome of one batch's request to its
// events' finalizers. When statuses is non-nil and matches batch.Array in
// length, it is applied per-record, in order (partial-batch responses,
// spec.md §4.4 step 7's "partial batch responses" note); otherwise every
// event in the batch receives the same status derived from err, generalizing
// the teacher's FanoutError per-subscriber aggregation to per-record
// delivery status.
//
// A non-nil statuses of the wrong length is a RequestSender bug, not a
// reason to leave these events' finalizers unresolved: finalize still
// applies a uniform fallback status (Rejected, or err's own classification
// if err is set) and returns an error only to report the anomaly — the
// caller must not treat that error as "no outcome was applied" the way a
// Cancelled classification is.
func finalize(batch Batch, statuses []event.Status, err error) error {
	events := batch.Array.Events()
	var mismatchErr error
	if statuses != nil {
		if len(statuses) == len(events) {
			for i, ev := range events {
				ev.TakeFinalizers().UpdateAll(statuses[i])
			}
			return nil
		}
		mismatchErr = fmt.Errorf("sinksvc: finalize: %d statuses for %d events", len(statuses), len(events))
		if err == nil {
			err = errs.New("sinksvc/finalize", errs.Permanent, errs.WithMessage(mismatchErr.Error()))
		}
	}

	status, apply := classifyStatus(err)
	if !apply {
		return mismatchErr
	}
	for _, ev := range events {
		ev.TakeFinalizers().UpdateAll(status)
	}
	return mismatchErr
}
