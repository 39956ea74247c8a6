package event

// Log is an ordered mapping from string keys to Values. Its top-level shape
// is always an Object (§3.1 invariant); Log exposes only the Object
// operations it needs rather than embedding the interface, so callers cannot
// accidentally swap the root value for a non-Object Value.
type Log struct {
	fields *Object
}

// NewLog constructs an empty Log.
func NewLog() *Log {
	return &Log{fields: NewObject()}
}

// Value returns the Log's root Object.
func (l *Log) Value() *Object {
	if l == nil {
		return nil
	}
	if l.fields == nil {
		l.fields = NewObject()
	}
	return l.fields
}

// Set inserts or updates a top-level field.
func (l *Log) Set(key string, v Value) {
	l.Value().Set(key, v)
}

// Get returns a top-level field.
func (l *Log) Get(key string) (Value, bool) {
	return l.Value().Get(key)
}

// Clone returns a deep copy of the log.
func (l *Log) Clone() *Log {
	if l == nil {
		return NewLog()
	}
	cloned := l.Value().Clone().(*Object)
	return &Log{fields: cloned}
}
