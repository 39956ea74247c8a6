// Package codec implements the compression, framing, and encoding
// primitives the sink service framework's request-build stage composes
// (spec.md §4.4 step 3): none/gzip/zstd/snappy compression and
// newline/length-delimited/fixed framing, applied to an already-serialized
// batch payload.
package codec

// Compressor compresses and decompresses a complete in-memory payload. All
// implementations operate on whole buffers rather than streams, matching
// the sink pipeline's batch-at-a-time request building.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// noneCompressor is the identity Compressor, used when a sink's request
// encoder is configured with no compression.
type noneCompressor struct{}

func (noneCompressor) Name() string                      { return "none" }
func (noneCompressor) Compress(src []byte) ([]byte, error) { return src, nil }
func (noneCompressor) Decompress(src []byte) ([]byte, error) {
	return src, nil
}

// None is the identity Compressor.
var None Compressor = noneCompressor{}

// ByName resolves a configured compression algorithm name to a Compressor.
// Used by sink configuration to pick a codec without hard-coding the
// concrete type.
func ByName(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	default:
		return nil, errUnknownCodec(name)
	}
}

type errUnknownCodec string

func (e errUnknownCodec) Error() string { return "codec: unknown compressor " + string(e) }
