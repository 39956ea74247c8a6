package event

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestPool() *Pool {
	return NewPool(NewPoolMetrics(prometheus.NewRegistry()))
}

func TestPoolGetEventReturnsResetEvent(t *testing.T) {
	p := newTestPool()

	ev := p.GetEvent()
	require.Equal(t, KindLog, ev.Kind)
}

func TestPoolPutEventResetsBeforeReuse(t *testing.T) {
	p := newTestPool()

	ev := p.GetEvent()
	l := NewLog()
	l.Set("k", Int64(1))
	ev.log = l
	ev.Kind = KindLog

	p.PutEvent(ev)

	reused := p.GetEvent()
	require.Equal(t, KindLog, reused.Kind)
	_, ok := reused.AsLog()
	require.True(t, ok)
	require.Equal(t, 0, reused.log.Value().Len())
}

func TestPoolGetArraySetsKind(t *testing.T) {
	p := newTestPool()

	arr := p.GetArray(KindMetric)
	require.Equal(t, KindMetric, arr.Kind())
	require.Equal(t, 0, arr.Len())
}

func TestPoolPutArrayRecyclesContainedEvents(t *testing.T) {
	p := newTestPool()

	arr := p.GetArray(KindLog)
	arr.Push(p.GetEvent())
	arr.Push(p.GetEvent())

	p.PutArray(arr)

	require.Equal(t, 0, arr.Len())
}

func TestPoolDoublePutPanicsInDebugMode(t *testing.T) {
	p := newTestPool()
	p.EnableDebugMode()
	defer p.DisableDebugMode()

	ev := p.GetEvent()
	p.PutEvent(ev)

	require.Panics(t, func() {
		p.PutEvent(ev)
	})
}

func TestPoolCheckoutClearsDebugTrackingForReuse(t *testing.T) {
	p := newTestPool()
	p.EnableDebugMode()
	defer p.DisableDebugMode()

	ev := p.GetEvent()
	p.PutEvent(ev)

	ev2 := p.GetEvent() // may or may not be the same backing pointer
	require.NotPanics(t, func() {
		p.PutEvent(ev2)
	})
}
