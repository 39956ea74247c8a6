package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// EncodeProtoDelimited serializes each message and writes it with a varint
// length prefix, the length-delimited framing convention shared by gRPC
// streaming bodies and Protobuf-over-TCP wire protocols.
func EncodeProtoDelimited(msgs []proto.Message) ([]byte, error) {
	var out []byte
	for i, m := range msgs {
		body, err := proto.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal proto record %d: %w", i, err)
		}
		out = protowire.AppendVarint(out, uint64(len(body)))
		out = append(out, body...)
	}
	return out, nil
}

// DecodeProtoDelimited splits payload into its varint-length-prefixed
// message bodies without unmarshaling them, so callers can unmarshal into
// their own concrete proto.Message type.
func DecodeProtoDelimited(payload []byte) ([][]byte, error) {
	var out [][]byte
	for len(payload) > 0 {
		n, width := protowire.ConsumeVarint(payload)
		if width < 0 {
			return nil, fmt.Errorf("codec: invalid varint length prefix")
		}
		payload = payload[width:]
		if uint64(len(payload)) < n {
			return nil, fmt.Errorf("codec: truncated proto record body")
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out, nil
}
