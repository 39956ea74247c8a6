// Package wsource is a demonstration topology.Source that ingests text
// messages from a WebSocket endpoint, each holding one JSON object. It is
// reference code proving the Source contract end-to-end, not part of the
// pipeline core.
package wsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/internal/topology"
)

// Options configures a Source.
type Options struct {
	// URL is the ws:// or wss:// endpoint to dial.
	URL string
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// MaxReconnectInterval caps the exponential backoff between dials.
	MaxReconnectInterval time.Duration
}

const defaultDialTimeout = 10 * time.Second

// Source dials URL and emits one log event per received text message,
// reconnecting with exponential backoff on any read or dial failure until
// its context is cancelled.
type Source struct {
	opts Options

	mu      sync.RWMutex
	lastErr error
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// New constructs a Source from opts.
func New(opts Options) *Source {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Source{opts: opts}
}

// Run dials opts.URL and forwards every text message received as a
// single-event EventArray until ctx is cancelled. Connection failures are
// retried with exponential backoff; ctx cancellation during a backoff sleep
// or a blocked read returns nil (graceful shutdown, not an error).
func (s *Source) Run(ctx context.Context, out topology.SourceContext) error {
	b := backoff.NewExponentialBackOff()
	if s.opts.MaxReconnectInterval > 0 {
		b.MaxInterval = s.opts.MaxReconnectInterval
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.setErr(err)
			sleep := b.NextBackOff()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sleep):
				continue
			}
		}

		s.setErr(nil)
		b.Reset()

		readErr := s.readLoop(ctx, conn, out)
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
		if ctx.Err() != nil {
			return nil
		}
		s.setErr(readErr)

		sleep := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func (s *Source) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("wsource: dial %s: %w", s.opts.URL, err)
	}
	return conn, nil
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, out topology.SourceContext) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("wsource: read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		arr, err := decode(data)
		if err != nil {
			continue
		}
		if err := out.Send(ctx, arr); err != nil {
			return fmt.Errorf("wsource: send: %w", err)
		}
	}
}

func decode(data []byte) (*event.EventArray, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("wsource: decode message: %w", err)
	}

	l := event.NewLog()
	for k, v := range fields {
		l.Set(k, fromPlain(v))
	}

	pool := event.DefaultPool()
	arr := pool.GetArray(event.KindLog)
	arr.Push(pool.GetLogEvent(l))
	return arr, nil
}

func fromPlain(v any) event.Value {
	switch val := v.(type) {
	case nil:
		return event.Null{}
	case bool:
		return event.Bool(val)
	case float64:
		return event.MustFloat64(val)
	case string:
		return event.Bytes(val)
	case []any:
		out := make(event.Array, len(val))
		for i, item := range val {
			out[i] = fromPlain(item)
		}
		return out
	case map[string]any:
		out := event.NewObject()
		for k, item := range val {
			out.Set(k, fromPlain(item))
		}
		return out
	default:
		return event.Null{}
	}
}

// Healthcheck reports the most recent connection error, if any.
func (s *Source) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	err := s.lastErr
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("wsource: unhealthy: %w", err)
	}
	return nil
}
