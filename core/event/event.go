package event

import (
	"sync"
	"sync/atomic"
)

// Status is the terminal delivery status recorded on a batch notifier.
// Ordering is Delivered > Errored > Rejected > Dropped (spec.md §3.2);
// merging two statuses keeps the lowest (worst), and a status may only be
// lowered, never raised.
type Status int32

const (
	// Delivered means every event in the batch reached its sink.
	Delivered Status = iota
	// Errored means delivery failed after exhausting retries.
	Errored
	// Rejected means the sink or pipeline permanently refused the batch.
	Rejected
	// Dropped means the events were discarded before reaching a sink
	// (overflow policy, explicit drop).
	Dropped
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Errored:
		return "errored"
	case Rejected:
		return "rejected"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// mergeStatus keeps the lowest (worst) of a and b.
func mergeStatus(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// BatchNotifier is the shared status cell fed by every finalizer derived
// from it. Once its reference count drops to zero the final, merged status
// is sent exactly once down the receiver channel returned by
// NewBatchNotifier.
type BatchNotifier struct {
	status int32 // atomic Status, CAS-merged to the lowest value
	refs   int64 // atomic reference count
	done   chan Status
	once   sync.Once
}

// NewBatchNotifier allocates a notifier (initial status Delivered, the
// identity element for merge-to-lowest) and returns it along with the
// receiver that fires once with the final status when the last finalizer
// derived from it drops. The notifier starts with zero references; each
// call to NewFinalizer (or Finalizer.Clone) adds one, so the receiver
// fires exactly when every finalizer ever derived from this notifier has
// reported a status.
func NewBatchNotifier() (*BatchNotifier, <-chan Status) {
	n := &BatchNotifier{
		status: int32(Delivered),
		done:   make(chan Status, 1),
	}
	return n, n.done
}

// newFinalizer increments the reference count and returns a Finalizer bound
// to this notifier. Used both for the first finalizer attached by a source
// and for derived finalizers created when a transform splits an event.
func (n *BatchNotifier) newFinalizer() *Finalizer {
	atomic.AddInt64(&n.refs, 1)
	return &Finalizer{notifier: n}
}

// updateStatus merges status into the notifier's status cell via
// compare-and-swap, keeping the lowest value observed.
func (n *BatchNotifier) updateStatus(status Status) {
	for {
		cur := Status(atomic.LoadInt32(&n.status))
		merged := mergeStatus(cur, status)
		if merged == cur {
			return
		}
		if atomic.CompareAndSwapInt32(&n.status, int32(cur), int32(merged)) {
			return
		}
	}
}

// release drops one reference; when the count reaches zero the final status
// is sent to the receiver exactly once.
func (n *BatchNotifier) release() {
	if atomic.AddInt64(&n.refs, -1) != 0 {
		return
	}
	n.once.Do(func() {
		n.done <- Status(atomic.LoadInt32(&n.status))
		close(n.done)
	})
}

// Finalizer is a reference to a shared BatchNotifier. Events carry zero or
// more finalizers in their metadata; UpdateStatus merges a status into every
// referenced notifier and releases the finalizer's reference.
type Finalizer struct {
	notifier *BatchNotifier
	released int32
}

// NewFinalizer attaches a new finalizer to notifier, incrementing its
// reference count. This is how a source allocates the first finalizer for
// each event it reads, and how a transform clones a finalizer when splitting
// an event into derived events.
func NewFinalizer(notifier *BatchNotifier) *Finalizer {
	if notifier == nil {
		return nil
	}
	return notifier.newFinalizer()
}

// UpdateStatus merges status into the referenced notifier and releases this
// finalizer's reference. Idempotent per finalizer: only the first call on a
// given *Finalizer merges and releases (guarded by an atomic CAS on the
// finalizer's released flag); later calls on the same value are no-ops.
func (f *Finalizer) UpdateStatus(status Status) {
	if f == nil || f.notifier == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&f.released, 0, 1) {
		return
	}
	f.notifier.updateStatus(status)
	f.notifier.release()
}

// Clone returns a new finalizer referencing the same notifier, incrementing
// its reference count by one. Used when a transform splits one event into N
// derived events: each derived event clones the finalizer (reference count
// += N-1 overall).
func (f *Finalizer) Clone() *Finalizer {
	if f == nil || f.notifier == nil {
		return nil
	}
	return f.notifier.newFinalizer()
}

// FinalizerList is the ordered set of finalizers carried by an event's
// metadata.
type FinalizerList []*Finalizer

// UpdateAll merges status into every finalizer in the list and releases
// each of their references.
func (fl FinalizerList) UpdateAll(status Status) {
	for _, f := range fl {
		f.UpdateStatus(status)
	}
}

// Clone returns a new FinalizerList with every finalizer cloned (reference
// count incremented), for attaching to a derived event.
func (fl FinalizerList) Clone() FinalizerList {
	if len(fl) == 0 {
		return nil
	}
	cp := make(FinalizerList, len(fl))
	for i, f := range fl {
		cp[i] = f.Clone()
	}
	return cp
}

// Metadata is carried by every Event: finalizers plus routing metadata.
// Acknowledgement can be disabled globally (spec.md §4.1 edge case): when
// disabled, Finalizers stays empty and sinks discard events without
// callback.
type Metadata struct {
	Finalizers   FinalizerList
	SchemaID     *string
	DatacenterID *int64
}

// TakeFinalizers removes and returns the metadata's finalizers, transferring
// ownership to the caller (e.g. across a batching boundary where the
// individual event's finalizers are merged into a batch-level list).
func (m *Metadata) TakeFinalizers() FinalizerList {
	if m == nil {
		return nil
	}
	taken := m.Finalizers
	m.Finalizers = nil
	return taken
}

// AddFinalizer appends f to the metadata's finalizer list.
func (m *Metadata) AddFinalizer(f *Finalizer) {
	if m == nil || f == nil {
		return
	}
	m.Finalizers = append(m.Finalizers, f)
}

// Clone returns a deep-ish copy: finalizers are cloned (ref count bumped),
// scalar fields are copied by value.
func (m Metadata) Clone() Metadata {
	return Metadata{
		Finalizers:   m.Finalizers.Clone(),
		SchemaID:     m.SchemaID,
		DatacenterID: m.DatacenterID,
	}
}

// Kind identifies which of the three Event variants is populated.
type Kind int

const (
	// KindLog marks an Event carrying a *Log.
	KindLog Kind = iota
	// KindMetric marks an Event carrying a *Metric.
	KindMetric
	// KindTrace marks an Event carrying a *Trace.
	KindTrace
)

// String renders the event kind for logging and telemetry labels.
func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	case KindTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Event is a tagged union over exactly three variants: Log, Metric, Trace
// (spec.md §3.1). Exactly one of the log/metric/trace fields is populated,
// selected by Kind.
type Event struct {
	Kind     Kind
	log      *Log
	metric   *Metric
	trace    *Trace
	Metadata Metadata
}

// NewLogEvent wraps l as a Log-kind Event.
func NewLogEvent(l *Log) *Event {
	return &Event{Kind: KindLog, log: l}
}

// NewMetricEvent wraps m as a Metric-kind Event.
func NewMetricEvent(m *Metric) *Event {
	return &Event{Kind: KindMetric, metric: m}
}

// NewTraceEvent wraps tr as a Trace-kind Event.
func NewTraceEvent(tr *Trace) *Event {
	return &Event{Kind: KindTrace, trace: tr}
}

// AsLog returns the Log payload and true if Kind is KindLog.
func (e *Event) AsLog() (*Log, bool) {
	if e == nil || e.Kind != KindLog {
		return nil, false
	}
	return e.log, true
}

// AsMetric returns the Metric payload and true if Kind is KindMetric.
func (e *Event) AsMetric() (*Metric, bool) {
	if e == nil || e.Kind != KindMetric {
		return nil, false
	}
	return e.metric, true
}

// AsTrace returns the Trace payload and true if Kind is KindTrace.
func (e *Event) AsTrace() (*Trace, bool) {
	if e == nil || e.Kind != KindTrace {
		return nil, false
	}
	return e.trace, true
}

// TakeFinalizers removes the event's finalizers for transfer across a
// batching boundary (spec.md §4.1 operation).
func (e *Event) TakeFinalizers() FinalizerList {
	if e == nil {
		return nil
	}
	return e.Metadata.TakeFinalizers()
}

// Clone returns a deep copy of the event, cloning its payload and bumping
// its finalizers' reference counts (used when a transform splits one event
// into N derived events).
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cloned := &Event{Kind: e.Kind, Metadata: e.Metadata.Clone()}
	switch e.Kind {
	case KindLog:
		cloned.log = e.log.Clone()
	case KindMetric:
		if e.metric != nil {
			m := *e.metric
			m.Series.Tags = e.metric.Series.Tags.Clone()
			cloned.metric = &m
		}
	case KindTrace:
		cloned.trace = e.trace.Clone()
	}
	return cloned
}

// Reset clears the event's fields for pool reuse (core/event.Pool).
func (e *Event) Reset() {
	if e == nil {
		return
	}
	e.Kind = KindLog
	e.log = nil
	e.metric = nil
	e.trace = nil
	e.Metadata = Metadata{}
}
