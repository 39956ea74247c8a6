package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

const poisonPattern uint64 = 0xDEADBEEFDEADBEEF

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
)

// DefaultPool returns the process-wide Pool shared by every component that
// allocates events from raw input (e.g. a source's decoder) and recycles
// them once a sink has finalized their delivery outcome. Lazily constructed
// so importing this package never has a side effect on its own.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(nil)
	})
	return defaultPool
}

// PoolMetrics captures observability counters for recycle operations.
type PoolMetrics struct {
	recycleTotal    *prometheus.CounterVec
	recycleDuration *prometheus.HistogramVec
	doublePutTotal  prometheus.Counter
}

// NewPoolMetrics constructs metrics instruments and registers them with the
// provided registerer (DefaultRegisterer if nil).
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PoolMetrics{
		recycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conduit",
				Subsystem: "event_pool",
				Name:      "recycled_total",
				Help:      "Total number of events/arrays recycled, labeled by event kind.",
			},
			[]string{"kind"},
		),
		recycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "conduit",
				Subsystem: "event_pool",
				Name:      "recycle_duration_seconds",
				Help:      "Time spent recycling events/arrays.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		doublePutTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "conduit",
				Subsystem: "event_pool",
				Name:      "double_put_total",
				Help:      "Total number of double-put violations detected in debug mode.",
			},
		),
	}
	reg.MustRegister(m.recycleTotal, m.recycleDuration, m.doublePutTotal)
	return m
}

func (m *PoolMetrics) observeRecycle(kind Kind, started time.Time) {
	if m == nil {
		return
	}
	label := kind.String()
	m.recycleTotal.WithLabelValues(label).Inc()
	m.recycleDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
}

func (m *PoolMetrics) incDoublePut() {
	if m == nil {
		return
	}
	m.doublePutTotal.Inc()
}

// Pool is a sync.Pool-backed allocator for Events and EventArrays. It
// supports an optional debug mode (poison-on-free, double-put detection)
// used in tests to catch a component that retains a pointer after recycling
// it.
type Pool struct {
	eventPool *sync.Pool
	arrayPool *sync.Pool
	metrics   *PoolMetrics

	debugEnabled atomic.Bool
	putTracker   sync.Map
}

// NewPool constructs a Pool. metrics may be nil, in which case a
// default-registered PoolMetrics is created.
func NewPool(metrics *PoolMetrics) *Pool {
	if metrics == nil {
		metrics = NewPoolMetrics(nil)
	}
	return &Pool{
		eventPool: &sync.Pool{New: func() any { return &Event{} }},
		arrayPool: &sync.Pool{New: func() any { return &EventArray{} }},
		metrics:   metrics,
	}
}

// GetEvent returns a pooled *Event, checking it out of debug tracking if
// debug mode is enabled.
func (p *Pool) GetEvent() *Event {
	ev, _ := p.eventPool.Get().(*Event)
	if ev == nil {
		ev = &Event{}
	}
	p.CheckoutEvent(ev)
	return ev
}

// GetArray returns a pooled *EventArray for the given kind.
func (p *Pool) GetArray(kind Kind) *EventArray {
	arr, _ := p.arrayPool.Get().(*EventArray)
	if arr == nil {
		arr = &EventArray{}
	}
	arr.kind = kind
	p.checkoutArray(arr)
	return arr
}

// GetLogEvent returns a pooled *Event wrapping l as a Log-kind event,
// avoiding the allocation NewLogEvent would otherwise make on every decode.
func (p *Pool) GetLogEvent(l *Log) *Event {
	ev := p.GetEvent()
	ev.Kind = KindLog
	ev.log = l
	return ev
}

// PutEvent resets ev and returns it to the pool.
func (p *Pool) PutEvent(ev *Event) {
	if ev == nil {
		return
	}
	debugMode := p.debugEnabled.Load()
	var ptr unsafe.Pointer
	if debugMode {
		ptr = unsafe.Pointer(ev) //nolint:gosec
		p.guardDoublePut(ptr)
	}
	kind := ev.Kind
	started := time.Now()
	ev.Reset()
	if debugMode {
		poisonEventMemory(ptr)
	}
	p.eventPool.Put(ev)
	p.metrics.observeRecycle(kind, started)
}

// PutArray recycles every event in arr, then resets and returns arr to the
// pool.
func (p *Pool) PutArray(arr *EventArray) {
	if arr == nil {
		return
	}
	kind := arr.Kind()
	started := time.Now()
	for _, ev := range arr.events {
		p.PutEvent(ev)
	}
	debugMode := p.debugEnabled.Load()
	var ptr unsafe.Pointer
	if debugMode {
		ptr = unsafe.Pointer(arr) //nolint:gosec
		p.guardDoublePut(ptr)
	}
	arr.Reset()
	if debugMode {
		poisonEventMemory(ptr)
	}
	p.arrayPool.Put(arr)
	p.metrics.observeRecycle(kind, started)
}

// EnableDebugMode activates poisoning and double-put tracking.
func (p *Pool) EnableDebugMode() {
	p.debugEnabled.Store(true)
}

// DisableDebugMode deactivates poisoning and clears the tracking map.
func (p *Pool) DisableDebugMode() {
	p.debugEnabled.Store(false)
	p.putTracker = sync.Map{}
}

// CheckoutEvent marks ev as out-of-pool, clearing debug trackers so it can
// be Put again later without tripping the double-put guard.
func (p *Pool) CheckoutEvent(ev *Event) {
	if ev == nil || !p.debugEnabled.Load() {
		return
	}
	p.releasePointer(unsafe.Pointer(ev)) //nolint:gosec
}

func (p *Pool) checkoutArray(arr *EventArray) {
	if arr == nil || !p.debugEnabled.Load() {
		return
	}
	p.releasePointer(unsafe.Pointer(arr)) //nolint:gosec
}

func (p *Pool) guardDoublePut(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if _, loaded := p.putTracker.LoadOrStore(ptr, struct{}{}); loaded {
		p.metrics.incDoublePut()
		panic(fmt.Sprintf("event: double-put detected for %p\n%s", ptr, debug.Stack()))
	}
}

func (p *Pool) releasePointer(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	p.putTracker.Delete(ptr)
}

func poisonEventMemory(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	*(*uint64)(ptr) = poisonPattern
}
