package buffer

import (
	"context"
	"io"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/lib/telemetry"
)

// CompositeOptions configures a composite buffer: a bounded memory buffer
// that overflows into a durable disk buffer once full, per spec.md §4.2's
// composite mode.
type CompositeOptions struct {
	ComponentID string
	MaxEvents   int
	Disk        DiskOptions
	Telemetry   telemetry.Telemetry
}

// NewCompositeBuffer wires a MemoryBuffer (Overflow policy) in front of a
// DiskBuffer, giving callers low-latency delivery under normal load and
// durable spillover under sustained backpressure. The returned Buffer reads
// from memory first, falling through to disk once the memory buffer has
// been drained and closed — composition happens entirely inside Send/Recv,
// so callers see a single Buffer with no mode-specific handling.
func NewCompositeBuffer(opts CompositeOptions) (Buffer, error) {
	opts.Disk.ComponentID = opts.ComponentID
	opts.Disk.Telemetry = opts.Telemetry
	disk, err := NewDiskBuffer(opts.Disk)
	if err != nil {
		return nil, err
	}

	mem, err := NewMemoryBuffer(MemoryOptions{
		ComponentID: opts.ComponentID,
		MaxEvents:   opts.MaxEvents,
		Policy:      Overflow,
		Overflow:    disk,
		Telemetry:   opts.Telemetry,
	})
	if err != nil {
		_ = disk.Close()
		return nil, err
	}

	return &compositeBuffer{mem: mem, disk: disk}, nil
}

// compositeBuffer reads from the memory buffer until it is closed and
// drained, then falls through to the disk buffer for anything that
// overflowed while memory was full.
type compositeBuffer struct {
	mem       *MemoryBuffer
	disk      *DiskBuffer
	memClosed bool
}

func (c *compositeBuffer) Send(ctx context.Context, arr *event.EventArray) error {
	return c.mem.Send(ctx, arr)
}

func (c *compositeBuffer) Recv(ctx context.Context) (*event.EventArray, error) {
	if !c.memClosed {
		arr, err := c.mem.Recv(ctx)
		switch {
		case err == nil:
			return arr, nil
		case err == io.EOF:
			c.memClosed = true
		default:
			return nil, err
		}
	}
	return c.disk.Recv(ctx)
}

func (c *compositeBuffer) Ack(n int) error {
	return c.disk.Ack(n)
}

func (c *compositeBuffer) Close() error {
	memErr := c.mem.Close()
	diskErr := c.disk.Close()
	if memErr != nil {
		return memErr
	}
	return diskErr
}
