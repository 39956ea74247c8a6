// Package topology builds and supervises a running pipeline: it wires
// buffers between components per spec.md §6.3's external interfaces, spawns
// each component under structured concurrency, and drives graceful
// shutdown, reload, and healthcheck per spec.md §4.3.
package topology

import (
	"context"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/internal/buffer"
)

// ComponentKey uniquely identifies a component within a topology. Uniqueness
// is enforced at Build time.
type ComponentKey string

// SourceContext is the write side a Source uses to emit events into its
// outbound buffer.
type SourceContext interface {
	Send(ctx context.Context, arr *event.EventArray) error
}

// Source produces events, e.g. by polling an external system or accepting
// inbound connections.
type Source interface {
	Run(ctx context.Context, out SourceContext) error
	Healthcheck(ctx context.Context) error
}

// FunctionTransform synchronously maps one EventArray to another (or drops
// it by returning a zero-length array). It runs inline in the stage's pump
// goroutine.
type FunctionTransform func(*event.EventArray) (*event.EventArray, error)

// TaskTransform owns its own goroutine and channel-based pipeline stage,
// used when a transform needs to buffer, reorder, or fan events out across
// multiple internal workers.
type TaskTransform func(ctx context.Context, in <-chan *event.EventArray) <-chan *event.EventArray

// Transform wraps exactly one of FunctionTransform or TaskTransform. The
// Controller applies Function inline; it does not run Task, so a Transform
// with only Task set forwards its input to its outbound edges unchanged.
type Transform struct {
	Function FunctionTransform
	Task     TaskTransform
}

// SinkRunner owns the sink-side pipeline (partition/batch/send/finalize)
// for events arriving on a buffer.Receiver.
type SinkRunner interface {
	Run(ctx context.Context, in buffer.Receiver) error
}

// Healthchecker reports whether a component is able to make progress.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// Sink builds the runner and healthchecker for a sink component. Build may
// open connections, warm caches, or validate credentials before the
// topology starts routing events to it.
type Sink interface {
	Build(ctx context.Context) (SinkRunner, Healthchecker, error)
}

// EdgeOptions configures the buffer instance wired onto an edge between two
// components.
type EdgeOptions struct {
	Mode      BufferMode
	MaxEvents int
	Disk      buffer.DiskOptions
}

// BufferMode selects which buffer.Buffer implementation an edge uses.
type BufferMode int

const (
	// BufferMemory wires a bounded in-memory buffer.
	BufferMemory BufferMode = iota
	// BufferDisk wires a durable disk-backed buffer.
	BufferDisk
	// BufferComposite wires a memory buffer overflowing to disk.
	BufferComposite
)

// ComponentSpec describes one node in the topology graph plus the edges
// carrying its output forward. Exactly one of Source, Transform, Sink is
// set.
type ComponentSpec struct {
	Key ComponentKey

	Source    Source
	Transform *Transform
	Sink      Sink

	// SendsTo names the downstream components this one forwards its
	// output to (empty for sinks, the topology's leaves).
	SendsTo []ComponentKey
	// Edges configures the buffer feeding each entry in SendsTo, keyed by
	// the downstream component. Missing entries default to a small memory
	// buffer (WhenFull: Block).
	Edges map[ComponentKey]EdgeOptions

	WhenFull        buffer.WhenFull
	HealthcheckOnly bool
}
