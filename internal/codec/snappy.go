package codec

import "github.com/golang/snappy"

// Snappy compresses with golang/snappy, attested as a direct dependency
// across the retrieval pack (DataDog-datadog-agent, hashicorp-nomad,
// ClusterCockpit-cc-backend, gravitational-teleport).
var Snappy Compressor = snappyCompressor{}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}
