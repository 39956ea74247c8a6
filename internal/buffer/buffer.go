// Package buffer implements the bounded edge queue between topology
// components: a memory mode, a durable disk mode, and a composite mode
// that overflows memory into disk.
package buffer

import (
	"context"

	"github.com/coachpo/conduit/core/event"
)

// WhenFull selects what a buffer does when it cannot accept a new
// EventArray within its configured capacity.
type WhenFull int

const (
	// Block suspends the sender until capacity is available.
	Block WhenFull = iota
	// DropNewest discards the incoming EventArray, marking its events
	// Dropped on their finalizers.
	DropNewest
	// Overflow forwards the incoming EventArray to a composed inner
	// buffer. Only valid when the buffer was built with an overflow
	// target.
	Overflow
)

// String renders the policy for logging.
func (w WhenFull) String() string {
	switch w {
	case Block:
		return "block"
	case DropNewest:
		return "drop_newest"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Sender is the producer side of a buffer edge.
type Sender interface {
	Send(ctx context.Context, arr *event.EventArray) error
}

// Receiver is the consumer side of a buffer edge. Ack advances the
// persisted reader position by n events; it is a no-op for buffers with
// no durable reader position (memory).
type Receiver interface {
	Recv(ctx context.Context) (*event.EventArray, error)
	Ack(n int) error
}

// Buffer is the full edge contract the topology controller wires between
// two components.
type Buffer interface {
	Sender
	Receiver
	Close() error
}
