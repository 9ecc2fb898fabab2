package xrpc

import (
	"encoding/json"
	"fmt"
)

// Tag is the single-letter wire discriminator of a Frame.
type Tag byte

const (
	TagRequest     Tag = 'q'
	TagResponse    Tag = 's'
	TagAck         Tag = 'a'
	TagStreamNext  Tag = 'n'
	TagStreamEnd   Tag = 'd'
	TagStreamError Tag = 'x'
)

func (t Tag) String() string {
	switch t {
	case TagRequest:
		return "REQUEST"
	case TagResponse:
		return "RESPONSE"
	case TagAck:
		return "ACK"
	case TagStreamNext:
		return "STREAM_NEXT"
	case TagStreamEnd:
		return "STREAM_END"
	case TagStreamError:
		return "STREAM_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%c)", byte(t))
	}
}

// WireError is a structured error payload (kind/message/path), portable
// across serialization formats.
type WireError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func newWireError(path string, err error) *WireError {
	if err == nil {
		return nil
	}
	kind := "error"
	switch err.(type) {
	case *NotFoundError:
		kind = "not-found"
	case *FunctionError:
		kind = "function-error"
	}
	return &WireError{Kind: kind, Message: err.Error(), Path: path}
}

// Frame is a tagged discriminated record, the single on-the-wire unit of
// the engine. Fields use a single-letter wire schema: t, i, m, a, o, r, e, v.
type Frame struct {
	Tag      Tag             `json:"t"`
	ID       string          `json:"i,omitempty"`
	Method   string          `json:"m,omitempty"`
	Args     json.RawMessage `json:"a,omitempty"`
	Optional bool            `json:"o,omitempty"`
	Result   json.RawMessage `json:"r,omitempty"`
	Err      *WireError      `json:"e,omitempty"`
	Value    json.RawMessage `json:"v,omitempty"`
}

func (f Frame) String() string {
	return fmt.Sprintf("<%s i=%s m=%s>", f.Tag, f.ID, f.Method)
}

// Payload is the opaque value posted and received by a transport. Which
// concrete type it holds (a []byte, or a Frame passed by reference for an
// in-process transport) is an agreement between a Codec and the transport
// it is paired with.
type Payload = interface{}

// Codec is the injected serialization contract: a pure pair of functions
// over the Frame record. The endpoint default is JSONCodec, which the
// byte-oriented transports need; IdentityCodec passes the frame through
// unchanged, for transports that move Go values directly (e.g. in-process
// channels), and is used only when selected with WithCodec.
type Codec interface {
	Serialize(Frame) (Payload, error)
	Deserialize(Payload) (Frame, error)
}

// jsonCodec is the concrete wire format used by every shipped byte-oriented
// transport (websocket, pipeconn).
type jsonCodec struct{}

// JSONCodec serializes Frame values to/from JSON-encoded []byte payloads.
var JSONCodec Codec = jsonCodec{}

func (jsonCodec) Serialize(f Frame) (Payload, error) {
	return json.Marshal(f)
}

func (jsonCodec) Deserialize(p Payload) (Frame, error) {
	var f Frame
	raw, ok := p.([]byte)
	if !ok {
		return f, fmt.Errorf("xrpc: JSONCodec expects a []byte payload, got %T", p)
	}
	err := json.Unmarshal(raw, &f)
	return f, err
}

// identityCodec carries the Frame value itself as the payload, with no
// encoding step at all.
type identityCodec struct{}

// IdentityCodec is a (de)serializer that does not touch the frame at all,
// handing the Frame value itself to the transport. It is not the endpoint
// default (JSONCodec is); select it with WithCodec. Pair it
// only with transports that move Go values directly (see
// transport/inproc); byte-oriented transports must use JSONCodec or
// another real codec.
var IdentityCodec Codec = identityCodec{}

func (identityCodec) Serialize(f Frame) (Payload, error) {
	return f, nil
}

func (identityCodec) Deserialize(p Payload) (Frame, error) {
	f, ok := p.(Frame)
	if !ok {
		return Frame{}, fmt.Errorf("xrpc: IdentityCodec expects a Frame payload, got %T", p)
	}
	return f, nil
}
