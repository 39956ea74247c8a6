// Package httpsink is a demonstration topology.Sink that POSTs batched
// requests to a configured HTTP endpoint, driving the internal/sinksvc
// pipeline. It is reference code proving the Sink contract end-to-end, not
// part of the pipeline core.
package httpsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
	"github.com/coachpo/conduit/internal/codec"
	"github.com/coachpo/conduit/internal/sinksvc"
	"github.com/coachpo/conduit/internal/topology"
	"github.com/coachpo/conduit/lib/telemetry"
)

// Options configures a Sink.
type Options struct {
	ComponentID    string
	URL            string
	Compressor     codec.Compressor
	RequestTimeout time.Duration

	Batch       sinksvc.BatchOptions
	RateLimit   sinksvc.RateLimitOptions
	Concurrency sinksvc.ConcurrencyOptions
	Retry       sinksvc.RetryOptions
	Telemetry   telemetry.Telemetry

	Client *http.Client
}

const defaultRequestTimeout = 10 * time.Second

// Sink builds a sinksvc.Service wired to an HTTP client that POSTs each
// batch's request payload to Options.URL as a single newline-delimited JSON
// body.
type Sink struct {
	opts Options
}

// New constructs a Sink from opts.
func New(opts Options) *Sink {
	if opts.Compressor == nil {
		opts.Compressor = codec.None
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.RequestTimeout}
	}
	return &Sink{opts: opts}
}

// Build constructs the runner and healthchecker. It never itself opens a
// connection (HTTP is dialed lazily per request); it exists to satisfy the
// topology.Sink contract and give the demonstration a warm-up point for
// future credential validation.
func (s *Sink) Build(ctx context.Context) (topology.SinkRunner, topology.Healthchecker, error) {
	builder := sinksvc.RequestBuilderFunc(func(batch sinksvc.Batch) (sinksvc.Request, error) {
		return buildRequest(batch, s.opts.Compressor)
	})
	sender := sinksvc.RequestSenderFunc(func(ctx context.Context, req sinksvc.Request) ([]event.Status, error) {
		return s.send(ctx, req)
	})

	svc := sinksvc.NewService(sinksvc.ServiceOptions{
		ComponentID: s.opts.ComponentID,
		Partition:   sinksvc.ConstantPartition("default"),
		Batch:       s.opts.Batch,
		Builder:     builder,
		Sender:      sender,
		RateLimit:   s.opts.RateLimit,
		Concurrency: s.opts.Concurrency,
		Retry:       s.opts.Retry,
		Telemetry:   s.opts.Telemetry,
	})
	return svc, healthchecker{opts: s.opts}, nil
}

func buildRequest(batch sinksvc.Batch, compressor codec.Compressor) (sinksvc.Request, error) {
	records, err := codec.EncodeEventsJSON(batch.Array)
	if err != nil {
		return sinksvc.Request{}, fmt.Errorf("httpsink: encode batch: %w", err)
	}

	payload, err := codec.Frame(codec.FrameNewline, records)
	if err != nil {
		return sinksvc.Request{}, fmt.Errorf("httpsink: frame batch: %w", err)
	}

	uncompressed := len(payload)
	payload, err = compressor.Compress(payload)
	if err != nil {
		return sinksvc.Request{}, fmt.Errorf("httpsink: compress batch: %w", err)
	}

	return sinksvc.Request{
		Payload: payload,
		Metadata: sinksvc.RequestMetadata{
			EventCount:         batch.Array.Len(),
			UncompressedBytes:  uncompressed,
			CompressedBytes:    len(payload),
			EstimatedJSONBytes: batch.Array.EstimatedJSONEncodedSizeOf(),
		},
	}, nil
}

// send POSTs req.Payload to Options.URL. A 408 or 429 response, a 5xx
// response, or a transport-level error is classified Transient so the retry
// stage backs off and tries again; any other non-2xx response is classified
// Permanent (the sink rejected this batch outright and retrying it
// unmodified would fail again).
func (s *Sink) send(ctx context.Context, req sinksvc.Request) ([]event.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, errs.New("httpsink/send", errs.Permanent, errs.WithCause(err))
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")
	if s.opts.Compressor != nil && s.opts.Compressor.Name() != "none" {
		httpReq.Header.Set("Content-Encoding", s.opts.Compressor.Name())
	}

	resp, err := s.opts.Client.Do(httpReq)
	if err != nil {
		return nil, errs.New("httpsink/send", errs.Transient, errs.WithCause(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil, nil
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New("httpsink/send", errs.Transient,
			errs.WithMessage(fmt.Sprintf("retriable: status %d", resp.StatusCode)))
	default:
		return nil, errs.New("httpsink/send", errs.Permanent,
			errs.WithMessage(fmt.Sprintf("rejected: status %d", resp.StatusCode)))
	}
}

type healthchecker struct {
	opts Options
}

// Healthcheck issues a HEAD request against the configured endpoint. A
// refused connection or 5xx response marks the sink unhealthy; anything
// else (including a 404 from an endpoint that doesn't implement HEAD) is
// treated as reachable.
func (h healthchecker) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("httpsink: build healthcheck request: %w", err)
	}
	resp, err := h.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("httpsink: endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("httpsink: endpoint unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
