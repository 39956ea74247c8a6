package sinksvc

import (
	"context"

	"github.com/coachpo/conduit/core/event"
)

// RequestMetadata carries the accounting a sink reports for telemetry
// (spec.md §4.4 step 3). Partial-batch finalization does not use it; it is
// driven by the statuses RequestSender.Send returns.
type RequestMetadata struct {
	EventCount         int
	UncompressedBytes  int
	CompressedBytes    int
	EstimatedJSONBytes int
}

// Request is the built, compressed, framed payload ready for dispatch.
type Request struct {
	Payload  []byte
	Metadata RequestMetadata
}

// RequestBuilder is the sink-supplied encoder that turns a batch into a
// Request: it compresses, frames, and applies any protocol-level wrapping
// (HTTP headers, gRPC framing) the concrete sink needs.
type RequestBuilder interface {
	Build(batch Batch) (Request, error)
}

// RequestBuilderFunc adapts a plain function to RequestBuilder.
type RequestBuilderFunc func(batch Batch) (Request, error)

func (f RequestBuilderFunc) Build(batch Batch) (Request, error) { return f(batch) }

// RequestSender executes a built Request against the sink's transport. A
// nil error with a populated returned []event.Status drives partial-batch
// finalization (one entry per event, in order); a nil error with a nil
// status slice finalizes the whole batch Delivered. A non-nil error's
// errs.Kind (see errs.KindOf) drives whole-batch finalization per spec.md
// §7, and is what the retry stage inspects to decide whether to retry.
type RequestSender interface {
	Send(ctx context.Context, req Request) ([]event.Status, error)
}

// RequestSenderFunc adapts a plain function to RequestSender.
type RequestSenderFunc func(ctx context.Context, req Request) ([]event.Status, error)

func (f RequestSenderFunc) Send(ctx context.Context, req Request) ([]event.Status, error) {
	return f(ctx, req)
}
