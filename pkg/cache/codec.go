package cache

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the serialized form a value takes on the L2 tier. It
// carries the compression flag across the network so the reader knows
// whether to decompress, and the write time for observability.
type Envelope struct {
	Key        string    `msgpack:"k"`
	Payload    []byte    `msgpack:"p"`
	Compressed bool      `msgpack:"c"`
	CreatedAt  time.Time `msgpack:"t"`
}

// EncodeEnvelope serializes an envelope for the remote tier.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope for %q: %w", env.Key, err)
	}
	return data, nil
}

// DecodeEnvelope deserializes a remote payload. A failure here means
// the payload is corrupt; callers treat it as a miss.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
