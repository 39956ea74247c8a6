// Package event defines the canonical event model shared by every pipeline
// stage: the Log/Metric/Trace union, the recursive Value sum type,
// EventArray batching, and the finalizer/batch-notifier acknowledgement
// protocol.
package event

import (
	"fmt"
	"math"
	"time"
)

// Value is the recursive sum type backing Log fields.
// Concrete variants are Null, Bool, Int64, Float64, Bytes, Timestamp, Array,
// and Object. It is sealed by an unexported marker method so callers cannot
// add variants outside this package.
type Value interface {
	isValue()
	// Clone returns a deep copy of the value.
	Clone() Value
	// String renders a debug-friendly representation.
	String() string
}

// Null represents the absence of a value.
type Null struct{}

func (Null) isValue()       {}
func (Null) Clone() Value   { return Null{} }
func (Null) String() string { return "null" }

// Bool wraps a boolean value.
type Bool bool

func (Bool) isValue()         {}
func (b Bool) Clone() Value   { return b }
func (b Bool) String() string { return fmt.Sprintf("%t", bool(b)) }

// Int64 wraps a signed 64-bit integer value.
type Int64 int64

func (Int64) isValue()         {}
func (i Int64) Clone() Value   { return i }
func (i Int64) String() string { return fmt.Sprintf("%d", int64(i)) }

// Float64 wraps a 64-bit float value. NaN is disallowed: NewFloat64 rejects
// it so Float64 values are always safe to order and hash.
type Float64 struct {
	v float64
}

// NewFloat64 constructs a Float64, returning an error if v is NaN.
func NewFloat64(v float64) (Float64, error) {
	if math.IsNaN(v) {
		return Float64{}, fmt.Errorf("event: NaN is not a valid Float64 value")
	}
	return Float64{v: v}, nil
}

// MustFloat64 is like NewFloat64 but panics on NaN; use only for literals
// known not to be NaN.
func MustFloat64(v float64) Float64 {
	f, err := NewFloat64(v)
	if err != nil {
		panic(err)
	}
	return f
}

// Float64Value returns the underlying float64.
func (f Float64) Float64Value() float64 { return f.v }

func (Float64) isValue()         {}
func (f Float64) Clone() Value   { return f }
func (f Float64) String() string { return fmt.Sprintf("%g", f.v) }

// Bytes wraps an opaque byte string.
type Bytes []byte

func (Bytes) isValue() {}
func (b Bytes) Clone() Value {
	cp := make(Bytes, len(b))
	copy(cp, b)
	return cp
}
func (b Bytes) String() string { return fmt.Sprintf("%x", []byte(b)) }

// Timestamp wraps an instant with nanosecond precision.
type Timestamp time.Time

func (Timestamp) isValue()         {}
func (t Timestamp) Clone() Value   { return t }
func (t Timestamp) String() string { return time.Time(t).Format(time.RFC3339Nano) }

// Array is an ordered sequence of Values.
type Array []Value

func (Array) isValue() {}
func (a Array) Clone() Value {
	cp := make(Array, len(a))
	for i, v := range a {
		if v == nil {
			continue
		}
		cp[i] = v.Clone()
	}
	return cp
}
func (a Array) String() string { return fmt.Sprintf("%v", []Value(a)) }

// Object is an ordered mapping of string keys to Values. Insertion order is
// preserved via the parallel keys slice; Set on an existing key updates the
// value in place without moving its position.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject constructs an empty Object.
func NewObject() *Object {
	return &Object{keys: nil, values: make(map[string]Value)}
}

func (*Object) isValue() {}

// Clone returns a deep copy preserving key order.
func (o *Object) Clone() Value {
	if o == nil {
		return NewObject()
	}
	cp := &Object{
		keys:   append([]string(nil), o.keys...),
		values: make(map[string]Value, len(o.values)),
	}
	for k, v := range o.values {
		if v == nil {
			cp.values[k] = nil
			continue
		}
		cp.values[k] = v.Clone()
	}
	return cp
}

func (o *Object) String() string {
	if o == nil {
		return "{}"
	}
	out := "{"
	for i, k := range o.keys {
		if i > 0 {
			out += ", "
		}
		out += k + ": " + o.values[k].String()
	}
	return out + "}"
}

// Set inserts or updates the value for key, preserving first-insertion order.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key from the object, if present.
func (o *Object) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the object's keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len returns the number of entries in the object.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range calls fn for every key/value pair in insertion order, stopping early
// if fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}
