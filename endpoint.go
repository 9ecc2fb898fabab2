package xrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
)

type ctxKey int

const endpointCtxKey ctxKey = 0

// FromContext returns the Endpoint a local Func is being invoked on,
// when the endpoint was constructed with BindEndpoint (the default).
func FromContext(ctx context.Context) (*Endpoint, bool) {
	ep, ok := ctx.Value(endpointCtxKey).(*Endpoint)
	return ep, ok
}

// Endpoint is one side of the RPC: it owns the correlation and stream
// tables and tracks its peer. Create one with New.
type Endpoint struct {
	cfg EndpointConfig

	calls   *correlationTable
	streams *streamTable
	pool    *workerPool

	closed     int32
	unregister func()
}

// New constructs an Endpoint over the given transport (Poster/Registrar
// pair) and starts listening for inbound frames immediately.
func New(post Poster, register Registrar, opts ...Option) (*Endpoint, error) {
	cfg := newConfig(post, register, opts...)
	return NewFromConfig(cfg)
}

// NewFromConfig constructs an Endpoint from an already-assembled
// EndpointConfig. Used directly by callers (such as broadcast.Group) that
// build several related configs sharing one FuncTree before instantiating
// each endpoint.
func NewFromConfig(cfg EndpointConfig) (*Endpoint, error) {
	ep := &Endpoint{
		cfg:     cfg,
		calls:   newCorrelationTable(),
		streams: newStreamTable(),
		pool:    newWorkerPool(),
	}
	unregister, err := cfg.Register(ep.onPayload)
	if err != nil {
		return nil, err
	}
	ep.unregister = unregister
	return ep, nil
}

// Config exposes the EndpointConfig's metadata-relevant fields to
// resolvers/hooks running in this endpoint's context (so per-endpoint
// metadata is reachable from a broadcast group's members, per the
// broadcast group component).
func (ep *Endpoint) Config() EndpointConfig { return ep.cfg }

// Functions returns the local function tree: readable and mutable.
func (ep *Endpoint) Functions() *FuncTree { return ep.cfg.Functions }

// Meta returns the opaque metadata from configuration.
func (ep *Endpoint) Meta() interface{} { return ep.cfg.Meta }

// Closed reports whether Close has been called.
func (ep *Endpoint) Closed() bool { return atomic.LoadInt32(&ep.closed) == 1 }

func (ep *Endpoint) bindCtx(ctx context.Context) context.Context {
	if ep.cfg.Binding == BindFunctions {
		return ctx
	}
	return context.WithValue(ctx, endpointCtxKey, ep)
}

func marshalArgs(args []interface{}) (json.RawMessage, error) {
	return json.Marshal(args)
}

// Call sends a Request and resolves with the remote's return value or
// rejects with a propagated error/timeout/ack-timeout/closed error.
func (ep *Endpoint) Call(ctx context.Context, path string, args ...interface{}) (json.RawMessage, error) {
	return ep.call(ctx, path, args, false)
}

// CallOptional is like Call but tolerates a missing remote function,
// resolving to a JSON null result instead of a not-found error.
func (ep *Endpoint) CallOptional(ctx context.Context, path string, args ...interface{}) (json.RawMessage, error) {
	return ep.call(ctx, path, args, true)
}

func (ep *Endpoint) call(ctx context.Context, path string, args []interface{}, optional bool) (json.RawMessage, error) {
	if ep.Closed() {
		return nil, &ClosedError{}
	}
	argsRaw, err := marshalArgs(args)
	if err != nil {
		return nil, &GeneralError{Err: err}
	}
	req := Frame{Tag: TagRequest, ID: newID(), Method: path, Args: argsRaw, Optional: optional}

	sendAndWait := func(f Frame) (Frame, error) {
		return ep.sendAndWait(ctx, f, path, args)
	}

	var resp Frame
	if ep.cfg.Hook != nil {
		var nextErr error
		resp, err = ep.cfg.Hook(ctx, req, func(f Frame) (Frame, error) {
			r, e := sendAndWait(f)
			nextErr = e
			return r, e
		})
		// an error raised by the hook itself (not one propagated from
		// next) goes to OnGeneralError, which may suppress it
		if err != nil && !errors.Is(err, nextErr) && ep.cfg.OnGeneralError != nil && ep.cfg.OnGeneralError(err) {
			return nil, nil
		}
	} else {
		resp, err = sendAndWait(req)
	}
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

// ResolveFrame builds a synthetic Response Frame carrying result, for a
// request hook to short-circuit with instead of calling next.
func ResolveFrame(req Frame, result interface{}) (Frame, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Frame{}, &GeneralError{Err: err}
	}
	return Frame{Tag: TagResponse, ID: req.ID, Result: raw}, nil
}

// sendAndWait registers a pending call, posts the Request, and blocks
// until a terminal event (Response, timeout, ack-timeout, or ctx
// cancellation) settles it.
func (ep *Endpoint) sendAndWait(ctx context.Context, req Frame, path string, args []interface{}) (Frame, error) {
	if ep.Closed() {
		return Frame{}, &ClosedError{}
	}

	pc := newPendingCall(path, args)
	ep.calls.add(req.ID, pc)

	payload, err := ep.cfg.Codec.Serialize(req)
	if err != nil {
		ep.calls.remove(req.ID)
		return Frame{}, &GeneralError{Err: err}
	}
	// arm before posting, so an Ack handled before Post returns finds the
	// ack timer in place and clears it
	ep.armCallTimers(pc, req.ID, path, args)
	if err := ep.cfg.Post(ctx, payload); err != nil {
		ep.calls.remove(req.ID)
		pc.clearTimers()
		return Frame{}, &GeneralError{Err: err}
	}

	select {
	case res := <-pc.result:
		return res.frame, res.err
	case <-ctx.Done():
		ep.calls.remove(req.ID)
		pc.clearTimers()
		return Frame{}, ctx.Err()
	}
}

// armCallTimers starts the ack timer (if configured) or the response
// timer (if no ack timeout is configured and the response timeout is
// non-negative) immediately at Request post time, per the timer
// discipline component.
func (ep *Endpoint) armCallTimers(pc *pendingCall, id, path string, args []interface{}) {
	if ep.cfg.AckTimeout != nil {
		d := *ep.cfg.AckTimeout
		pc.setAckTimer(startTimer(d, func() { ep.onAckTimeout(id, pc, path, args) }))
		return
	}
	if ep.cfg.ResponseTimeout >= 0 {
		pc.setRespTimer(startTimer(ep.cfg.ResponseTimeout, func() { ep.onResponseTimeout(id, pc, path, args) }))
	}
}

func (ep *Endpoint) onAckTimeout(id string, pc *pendingCall, path string, args []interface{}) {
	if _, ok := ep.calls.get(id); !ok {
		return
	}
	var suppress bool
	var custom error
	if ep.cfg.OnAckTimeout != nil {
		suppress, custom = ep.cfg.OnAckTimeout(path, args)
	}
	if suppress {
		return
	}
	ep.calls.remove(id)
	pc.clearTimers()
	if custom == nil {
		custom = &AckTimeoutError{Path: path}
	}
	pc.settle(callResult{err: custom})
}

func (ep *Endpoint) onResponseTimeout(id string, pc *pendingCall, path string, args []interface{}) {
	if _, ok := ep.calls.get(id); !ok {
		return
	}
	var suppress bool
	var custom error
	if ep.cfg.OnTimeout != nil {
		suppress, custom = ep.cfg.OnTimeout(path, args)
	}
	if suppress {
		return
	}
	ep.calls.remove(id)
	pc.clearTimers()
	if custom == nil {
		custom = &TimeoutError{Path: path}
	}
	pc.settle(callResult{err: custom})
}

// CallEvent sends a Request without an id: a fire-and-forget call.
// Resolves as soon as the frame is posted.
func (ep *Endpoint) CallEvent(ctx context.Context, path string, args ...interface{}) error {
	if ep.Closed() {
		return &ClosedError{}
	}
	argsRaw, err := marshalArgs(args)
	if err != nil {
		return &GeneralError{Err: err}
	}
	req := Frame{Tag: TagRequest, Method: path, Args: argsRaw}
	payload, err := ep.cfg.Codec.Serialize(req)
	if err != nil {
		return &GeneralError{Err: err}
	}
	if err := ep.cfg.Post(ctx, payload); err != nil {
		return &GeneralError{Err: err}
	}
	return nil
}

// CallRawOptions is the explicit form of a call, exposing every option.
type CallRawOptions struct {
	Method   string
	Args     []interface{}
	Event    bool
	Optional bool
}

// CallRaw dispatches to Call, CallOptional, or CallEvent according to
// the Event/Optional flags.
func (ep *Endpoint) CallRaw(ctx context.Context, opts CallRawOptions) (json.RawMessage, error) {
	switch {
	case opts.Event:
		return nil, ep.CallEvent(ctx, opts.Method, opts.Args...)
	case opts.Optional:
		return ep.CallOptional(ctx, opts.Method, opts.Args...)
	default:
		return ep.Call(ctx, opts.Method, opts.Args...)
	}
}

// CallStream returns a lazy, single-pass sequence. The underlying
// Request is not posted until the first call to Next.
func (ep *Endpoint) CallStream(ctx context.Context, path string, args ...interface{}) *StreamIter {
	return &StreamIter{ep: ep, pendingStart: func() (string, error) { return ep.startStream(ctx, path, args) }}
}

func (ep *Endpoint) startStream(ctx context.Context, path string, args []interface{}) (string, error) {
	if ep.Closed() {
		return "", &ClosedError{}
	}
	argsRaw, err := marshalArgs(args)
	if err != nil {
		return "", &GeneralError{Err: err}
	}
	id := newID()
	req := Frame{Tag: TagRequest, ID: id, Method: path, Args: argsRaw}

	record := newStreamRecord(path, args)
	ep.streams.add(id, record)

	payload, err := ep.cfg.Codec.Serialize(req)
	if err != nil {
		ep.streams.remove(id)
		return "", &GeneralError{Err: err}
	}
	ep.armStreamTimers(record, id, path, args)
	if err := ep.cfg.Post(ctx, payload); err != nil {
		ep.streams.remove(id)
		record.clearTimers()
		return "", &GeneralError{Err: err}
	}
	return id, nil
}

// armStreamTimers starts the ack timer (if configured) or the response
// timer (if no ack timeout is configured and the response timeout is
// non-negative) immediately at Request post time, mirroring armCallTimers.
func (ep *Endpoint) armStreamTimers(record *streamRecord, id, path string, args []interface{}) {
	if ep.cfg.AckTimeout != nil {
		d := *ep.cfg.AckTimeout
		record.setAckTimer(startTimer(d, func() { ep.onStreamAckTimeout(id, record, path, args) }))
		return
	}
	if ep.cfg.ResponseTimeout >= 0 {
		record.setRespTimer(startTimer(ep.cfg.ResponseTimeout, func() { ep.onStreamResponseTimeout(id, record, path, args) }))
	}
}

func (ep *Endpoint) onStreamAckTimeout(id string, record *streamRecord, path string, args []interface{}) {
	if _, ok := ep.streams.get(id); !ok {
		return
	}
	var suppress bool
	var custom error
	if ep.cfg.OnAckTimeout != nil {
		suppress, custom = ep.cfg.OnAckTimeout(path, args)
	}
	if suppress {
		return
	}
	ep.streams.remove(id)
	record.clearTimers()
	if custom == nil {
		custom = &AckTimeoutError{Path: path}
	}
	record.fail(custom)
}

func (ep *Endpoint) onStreamResponseTimeout(id string, record *streamRecord, path string, args []interface{}) {
	if _, ok := ep.streams.get(id); !ok {
		return
	}
	var suppress bool
	var custom error
	if ep.cfg.OnTimeout != nil {
		suppress, custom = ep.cfg.OnTimeout(path, args)
	}
	if suppress {
		return
	}
	ep.streams.remove(id)
	record.clearTimers()
	if custom == nil {
		custom = &TimeoutError{Path: path}
	}
	record.fail(custom)
}

// RejectPendingCalls fails every in-flight call (without closing the
// endpoint) via handler, or a default "rejected pending call" error,
// then clears the correlation table. Streams are not affected.
func (ep *Endpoint) RejectPendingCalls(handler func(path string) error) {
	for _, pc := range ep.calls.drain() {
		pc.clearTimers()
		var err error
		if handler != nil {
			err = handler(pc.path)
		}
		if err == nil {
			err = &RejectedPendingCallError{Path: pc.path}
		}
		pc.settle(callResult{err: err})
	}
}

// Close transitions the endpoint to closed: clears every timer, fails
// every pending call and stream, detaches the listener, and empties both
// tables. Idempotent.
func (ep *Endpoint) Close(cause error) {
	if !atomic.CompareAndSwapInt32(&ep.closed, 0, 1) {
		return
	}
	closedErr := &ClosedError{Cause: cause}
	for _, pc := range ep.calls.drain() {
		pc.clearTimers()
		pc.settle(callResult{err: closedErr})
	}
	for _, s := range ep.streams.drain() {
		s.clearTimers()
		s.fail(closedErr)
	}
	if ep.unregister != nil {
		ep.unregister()
	}
	ep.pool.Close()
}
