package codec

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/conduit/core/event"
)

// ToPlain converts an event.Value into the plain any tree
// github.com/goccy/go-json (or any other JSON encoder) can marshal
// directly, since event.Value's concrete variants are sealed and carry no
// MarshalJSON of their own.
func ToPlain(v event.Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case event.Null:
		return nil
	case event.Bool:
		return bool(val)
	case event.Int64:
		return int64(val)
	case event.Float64:
		return val.Float64Value()
	case event.Bytes:
		return []byte(val)
	case event.Timestamp:
		return time.Time(val).Format(time.RFC3339Nano)
	case event.Array:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToPlain(item)
		}
		return out
	case *event.Object:
		out := make(map[string]any, val.Len())
		val.Range(func(key string, v event.Value) bool {
			out[key] = ToPlain(v)
			return true
		})
		return out
	default:
		return nil
	}
}

// EncodeLogJSON marshals a Log event's fields to a single JSON object,
// e.g. for one NDJSON line in a batch request body.
func EncodeLogJSON(l *event.Log) ([]byte, error) {
	return json.Marshal(ToPlain(l.Value()))
}

// EncodeEventsJSON marshals every log/trace event in arr to its own JSON
// record, in order, for framing via Frame(FrameNewline, ...). Metric events
// are rendered through their tag/value summary since they carry no single
// Object payload.
func EncodeEventsJSON(arr *event.EventArray) ([][]byte, error) {
	out := make([][]byte, 0, arr.Len())
	for _, ev := range arr.Events() {
		var payload []byte
		var err error
		switch ev.Kind {
		case event.KindLog:
			l, _ := ev.AsLog()
			payload, err = EncodeLogJSON(l)
		case event.KindTrace:
			tr, _ := ev.AsTrace()
			payload, err = EncodeLogJSON(tr.AsLog())
		case event.KindMetric:
			m, _ := ev.AsMetric()
			payload, err = json.Marshal(metricPlain(m))
		}
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

func metricPlain(m *event.Metric) map[string]any {
	if m == nil {
		return nil
	}
	plain := map[string]any{
		"name": m.Series.Name,
		"tags": m.Series.Tags.Snapshot(),
		"kind": m.Kind.String(),
	}
	if m.Series.Namespace != nil {
		plain["namespace"] = *m.Series.Namespace
	}
	return plain
}
