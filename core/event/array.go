package event

// EventArray is a homogeneous batch of events of one Kind. All pipeline
// stages operate on EventArrays rather than individual events for cache and
// allocation efficiency (spec.md §3.3). Len, ByteSize, and
// EstimatedJSONEncodedSizeOf are O(array length).
type EventArray struct {
	kind   Kind
	events []*Event
}

// NewEventArray constructs an empty EventArray for the given kind.
func NewEventArray(kind Kind) *EventArray {
	return &EventArray{kind: kind}
}

// Kind returns the homogeneous kind of every event in the array.
func (a *EventArray) Kind() Kind {
	if a == nil {
		return KindLog
	}
	return a.kind
}

// Len returns the number of events in the array.
func (a *EventArray) Len() int {
	if a == nil {
		return 0
	}
	return len(a.events)
}

// Push appends ev to the array. The caller is responsible for ensuring ev's
// Kind matches the array's Kind; Push does not itself enforce homogeneity so
// that pooled arrays can be reset and repopulated without an allocation.
func (a *EventArray) Push(ev *Event) {
	if a == nil || ev == nil {
		return
	}
	a.events = append(a.events, ev)
}

// At returns the event at index i.
func (a *EventArray) At(i int) *Event {
	if a == nil || i < 0 || i >= len(a.events) {
		return nil
	}
	return a.events[i]
}

// Events returns the underlying slice. Callers must not retain it beyond the
// array's lifetime if the array is pool-managed.
func (a *EventArray) Events() []*Event {
	if a == nil {
		return nil
	}
	return a.events
}

// ByteSize returns the conservative estimated wire size of every event in
// the array, summed. It never serializes; see EstimatedJSONEncodedSizeOf for
// the JSON-specific estimator used by byte-limited batching (spec.md §4.1,
// §4.4 step 2).
func (a *EventArray) ByteSize() int {
	if a == nil {
		return 0
	}
	total := 0
	for _, ev := range a.events {
		total += estimateEventSize(ev)
	}
	return total
}

// EstimatedJSONEncodedSizeOf returns a cheap, conservative upper-bound
// estimate of the array's JSON-serialized size, used for byte-limited
// batching without actually serializing (spec.md §4.1, §4.4 step 2).
func (a *EventArray) EstimatedJSONEncodedSizeOf() int {
	return a.ByteSize()
}

// TakeFinalizers removes and returns the finalizers of every event in the
// array, e.g. when building a sink batch that owns its own aggregate
// finalizer list instead of per-event lists.
func (a *EventArray) TakeFinalizers() FinalizerList {
	if a == nil {
		return nil
	}
	var all FinalizerList
	for _, ev := range a.events {
		all = append(all, ev.TakeFinalizers()...)
	}
	return all
}

// Split partitions the array at index n into two arrays: events[:n] and
// events[n:]. Finalizer ownership is preserved exactly: each output half
// owns the corresponding slice of events (and therefore their finalizers) —
// nothing is cloned, because splitting does not duplicate events, it only
// partitions an existing ownership.
func (a *EventArray) Split(n int) (head, tail *EventArray) {
	if a == nil {
		return nil, nil
	}
	if n < 0 {
		n = 0
	}
	if n > len(a.events) {
		n = len(a.events)
	}
	head = &EventArray{kind: a.kind, events: a.events[:n:n]}
	tail = &EventArray{kind: a.kind, events: append([]*Event(nil), a.events[n:]...)}
	return head, tail
}

// Reset clears the array for pool reuse, retaining the backing slice's
// capacity.
func (a *EventArray) Reset() {
	if a == nil {
		return
	}
	for i := range a.events {
		a.events[i] = nil
	}
	a.events = a.events[:0]
	a.kind = KindLog
}

// EstimatedEventSize returns the same conservative per-event estimate that
// ByteSize sums over an array, exposed so callers can peek the cost of a
// prospective push before committing it (spec.md §4.4 step 2 byte-trigger
// boundary: a batch flushes before a push that would exceed max_bytes).
func EstimatedEventSize(ev *Event) int {
	return estimateEventSize(ev)
}

// estimateEventSize returns a cheap per-event size estimate used by
// ByteSize/EstimatedJSONEncodedSizeOf. It deliberately overestimates simple
// shapes rather than walking full nested structures on every call, matching
// the "conservative upper estimate" contract in spec.md §4.1.
func estimateEventSize(ev *Event) int {
	const baseOverhead = 32 // braces, field separators, quoting
	if ev == nil {
		return 0
	}
	switch ev.Kind {
	case KindLog:
		if l, ok := ev.AsLog(); ok {
			return baseOverhead + estimateObjectSize(l.Value())
		}
	case KindTrace:
		if tr, ok := ev.AsTrace(); ok {
			return baseOverhead + estimateObjectSize(tr.AsLog().Value())
		}
	case KindMetric:
		if m, ok := ev.AsMetric(); ok {
			return baseOverhead + estimateMetricSize(m)
		}
	}
	return baseOverhead
}

func estimateObjectSize(o *Object) int {
	if o == nil {
		return 2
	}
	size := 2
	o.Range(func(key string, v Value) bool {
		size += len(key) + 4
		size += estimateValueSize(v)
		return true
	})
	return size
}

func estimateValueSize(v Value) int {
	switch val := v.(type) {
	case nil:
		return 4
	case Null:
		return 4
	case Bool:
		return 5
	case Int64:
		return 20
	case Float64:
		return 24
	case Bytes:
		return len(val)*4/3 + 4 // base64-ish expansion estimate
	case Timestamp:
		return 32
	case Array:
		size := 2
		for _, item := range val {
			size += estimateValueSize(item) + 1
		}
		return size
	case *Object:
		return estimateObjectSize(val)
	default:
		return 16
	}
}

func estimateMetricSize(m *Metric) int {
	size := len(m.Series.Name) + 16
	if m.Series.Namespace != nil {
		size += len(*m.Series.Namespace)
	}
	size += m.Series.Tags.Len() * 24
	switch v := m.Value.(type) {
	case DistributionValue:
		size += len(v.Distribution.Samples) * 16
	case AggregatedHistogramValue:
		size += len(v.Histogram.Buckets) * 16
	case AggregatedSummaryValue:
		size += len(v.Summary.Quantiles) * 16
	case SetValue:
		for k := range v.Values {
			size += len(k) + 4
		}
	default:
		size += 16
	}
	return size
}
