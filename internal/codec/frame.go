package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FrameMode selects how a sink's request encoder concatenates per-record
// payloads into one request body (spec.md §4.4 step 3).
type FrameMode int

const (
	// FrameFixed emits a single record's payload with no separator; only
	// valid when a batch contains exactly one record (e.g. the batch was
	// already serialized as one JSON array).
	FrameFixed FrameMode = iota
	// FrameNewline joins records with '\n', for newline-delimited JSON
	// (NDJSON) wire formats.
	FrameNewline
	// FrameLengthDelimited prefixes each record with a big-endian u32
	// length, matching the disk buffer's own record framing convention.
	FrameLengthDelimited
)

// Frame concatenates records according to mode.
func Frame(mode FrameMode, records [][]byte) ([]byte, error) {
	switch mode {
	case FrameFixed:
		if len(records) != 1 {
			return nil, fmt.Errorf("codec: fixed framing requires exactly one record, got %d", len(records))
		}
		return records[0], nil
	case FrameNewline:
		var buf bytes.Buffer
		for i, rec := range records {
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(rec)
		}
		return buf.Bytes(), nil
	case FrameLengthDelimited:
		var buf bytes.Buffer
		var lenPrefix [4]byte
		for _, rec := range records {
			binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(rec)))
			buf.Write(lenPrefix[:])
			buf.Write(rec)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unknown frame mode %d", mode)
	}
}

// Unframe reverses Frame for FrameNewline and FrameLengthDelimited (the
// modes that can carry more than one record); used by tests and by sinks
// that need to replay a previously built request body.
func Unframe(mode FrameMode, payload []byte) ([][]byte, error) {
	switch mode {
	case FrameFixed:
		return [][]byte{payload}, nil
	case FrameNewline:
		if len(payload) == 0 {
			return nil, nil
		}
		return bytes.Split(payload, []byte{'\n'}), nil
	case FrameLengthDelimited:
		var out [][]byte
		for len(payload) > 0 {
			if len(payload) < 4 {
				return nil, fmt.Errorf("codec: truncated length prefix")
			}
			n := binary.BigEndian.Uint32(payload[:4])
			payload = payload[4:]
			if uint32(len(payload)) < n {
				return nil, fmt.Errorf("codec: truncated record body")
			}
			out = append(out, payload[:n])
			payload = payload[n:]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown frame mode %d", mode)
	}
}
