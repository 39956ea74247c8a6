// Package errs provides structured error types and helpers for the conduit pipeline.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Kind classifies an error raised inside the core per the pipeline's error
// taxonomy: how the caller must react to it.
type Kind string

const (
	// Transient indicates the error is likely to succeed on retry (network
	// blip, 5xx, timeout, 429). Callers retry; exhausted retries lower the
	// finalizer status to Errored.
	Transient Kind = "transient"
	// Permanent indicates the error will not succeed on retry (4xx other
	// than 408/429, encoding failure, schema mismatch). No retry; finalizer
	// status becomes Rejected.
	Permanent Kind = "permanent"
	// Poison indicates corrupt input the pipeline cannot process (checksum
	// mismatch, undecodable record). Dropped with a diagnostic; finalizer
	// status becomes Rejected.
	Poison Kind = "poison"
	// Fatal indicates a broken invariant (disk full, ledger corruption past
	// repair). Propagates to the controller, which initiates shutdown.
	Fatal Kind = "fatal"
	// Cancelled indicates shutdown is in progress. Finalizer is left
	// unchanged; the caller returns.
	Cancelled Kind = "cancelled"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Op          string
	Kind        Kind
	Message     string
	Stage       string
	ComponentID string
	Metadata    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given operation and kind.
func New(op string, kind Kind, opts ...Option) *E {
	e := &E{
		Op:          strings.TrimSpace(op),
		Kind:        kind,
		Message:     "",
		Stage:       "",
		ComponentID: "",
		Metadata:    nil,
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithStage records the sink-pipeline or buffer stage that produced the error.
func WithStage(stage string) Option {
	trimmed := strings.TrimSpace(stage)
	return func(e *E) {
		e.Stage = trimmed
	}
}

// WithComponentID records the owning component's key.
func WithComponentID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.ComponentID = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMetadata merges the provided metadata into the error envelope.
func WithMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Metadata[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.Stage != "" {
		parts = append(parts, "stage="+e.Stage)
	}
	if e.ComponentID != "" {
		parts = append(parts, "component="+e.ComponentID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "metadata="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind, unwrapping through plain
// wrapped errors.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*E); ok { //nolint:errorlint
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to Permanent when err
// is not a structured *E (an undeclared error from a collaborator is treated
// conservatively as non-retriable).
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*E); ok { //nolint:errorlint
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Permanent
}
