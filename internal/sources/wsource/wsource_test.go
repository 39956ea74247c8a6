package wsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
)

type recordingSink struct {
	mu   sync.Mutex
	arrs []*event.EventArray
}

func (r *recordingSink) Send(ctx context.Context, arr *event.EventArray) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrs = append(r.arrs, arr)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arrs)
}

func TestSourceRunDecodesTextMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"msg":"hello","n":1}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := New(Options{URL: wsURL, DialTimeout: time.Second})

	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = src.Run(ctx, sink)
	require.GreaterOrEqual(t, sink.count(), 1)

	l, ok := sink.arrs[0].At(0).AsLog()
	require.True(t, ok)
	v, ok := l.Get("msg")
	require.True(t, ok)
	require.Equal(t, event.Bytes("hello"), v)
}

func TestSourceHealthcheckReflectsDialFailure(t *testing.T) {
	src := New(Options{URL: "ws://127.0.0.1:1", DialTimeout: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_ = src.Run(ctx, &recordingSink{})
	require.Error(t, src.Healthcheck(context.Background()))
}
