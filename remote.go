package xrpc

import (
	"context"
	"encoding/json"
	"strings"
)

// Remote is a recursively navigable handle onto a dotted method path.
// Path accumulates segments; Call, Event and Stream are the three
// terminal operations.
type Remote struct {
	ep   *Endpoint
	path []string
}

// RemoteOf returns the root Remote for ep. Call .Path(seg) to descend.
func RemoteOf(ep *Endpoint) Remote {
	return Remote{ep: ep}
}

// Path descends one segment, returning a new Remote (immutable builder).
func (r Remote) Path(seg string) Remote {
	next := make([]string, len(r.path)+1)
	copy(next, r.path)
	next[len(r.path)] = seg
	return Remote{ep: r.ep, path: next}
}

func (r Remote) method() string { return strings.Join(r.path, ".") }

// Call performs a response-expecting call, unless ProxyEnabled is set and
// this method name was registered as an event (WithEvents), in which case
// it transparently fires a no-response event instead. Use Event directly
// to always fire-and-forget, or IsEvent to branch explicitly.
func (r Remote) Call(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	if r.ep.cfg.ProxyEnabled && r.ep.cfg.Events[r.method()] {
		return nil, r.ep.CallEvent(ctx, r.method(), args...)
	}
	return r.ep.Call(ctx, r.method(), args...)
}

// CallOptional performs an optional response-expecting call.
func (r Remote) CallOptional(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	return r.ep.CallOptional(ctx, r.method(), args...)
}

// Event sends this path as a fire-and-forget call.
func (r Remote) Event(ctx context.Context, args ...interface{}) error {
	return r.ep.CallEvent(ctx, r.method(), args...)
}

// Stream calls this path as a stream.
func (r Remote) Stream(ctx context.Context, args ...interface{}) *StreamIter {
	return r.ep.CallStream(ctx, r.method(), args...)
}

// IsEvent reports whether this path was registered as an event via
// WithEvents.
func (r Remote) IsEvent() bool { return r.ep.cfg.Events[r.method()] }
