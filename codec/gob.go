// Package codec collects xrpc.Codec implementations beyond the JSON and
// identity codecs built into the core package.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/fabregas/xrpc"
)

// gobCodec serializes a Frame with encoding/gob. Each Serialize call
// produces one independent gob stream, so payloads remain self-contained
// the way JSONCodec's are.
type gobCodec struct{}

// Gob is an xrpc.Codec backed by encoding/gob. Pick it over the default
// JSONCodec when both peers are known to be Go processes and the binary,
// non-human-readable wire format is acceptable.
var Gob xrpc.Codec = gobCodec{}

func (gobCodec) Serialize(f xrpc.Frame) (xrpc.Payload, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("codec: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Deserialize(payload xrpc.Payload) (xrpc.Frame, error) {
	buf, ok := payload.([]byte)
	if !ok {
		return xrpc.Frame{}, fmt.Errorf("codec: gob decode: expected []byte payload, got %T", payload)
	}
	var f xrpc.Frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&f); err != nil {
		return xrpc.Frame{}, fmt.Errorf("codec: gob decode: %w", err)
	}
	return f, nil
}
