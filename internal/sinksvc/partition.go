// Package sinksvc implements the sink service framework (spec.md §4.4): the
// uniform partition/batch/request-build/rate-limit/concurrency-control/
// retry/finalize pipeline every network sink is written against, so sink
// adapters stay thin wrappers around it.
package sinksvc

import "github.com/coachpo/conduit/core/event"

// PartitionFunc maps an event to a partition key; events with different
// keys are batched independently and carry no mutual ordering guarantee.
type PartitionFunc func(*event.Event) string

// ConstantPartition returns a PartitionFunc that routes every event to the
// same key, for sinks that don't need per-destination batching.
func ConstantPartition(key string) PartitionFunc {
	return func(*event.Event) string { return key }
}
