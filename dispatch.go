package xrpc

import (
	"context"
	"encoding/json"
)

// onPayload is the Registrar receive callback: it deserializes the
// payload and routes the resulting Frame to the dispatcher. Further
// inbound frames are ignored once the endpoint is closed — including any
// Responses for requests whose records have already been cleared.
func (ep *Endpoint) onPayload(payload Payload, extra ...interface{}) {
	if ep.Closed() {
		return
	}
	f, err := ep.cfg.Codec.Deserialize(payload)
	if err != nil {
		ep.handleGeneralError(&GeneralError{Err: err})
		return
	}
	ep.dispatch(f, extra)
}

func (ep *Endpoint) dispatch(f Frame, extra []interface{}) {
	switch f.Tag {
	case TagRequest:
		ep.handleRequestFrame(f, extra)
	case TagResponse:
		ep.handleResponseFrame(f)
	case TagAck:
		ep.handleAckFrame(f)
	case TagStreamNext:
		ep.handleStreamNextFrame(f)
	case TagStreamEnd:
		ep.handleStreamEndFrame(f)
	case TagStreamError:
		ep.handleStreamErrorFrame(f)
	default:
		// unrecognized tags are ignored
	}
}

func (ep *Endpoint) handleGeneralError(err error) {
	if ep.cfg.OnGeneralError != nil && ep.cfg.OnGeneralError(err) {
		return
	}
	ep.cfg.Logger.Errorf("xrpc: %s", err)
}

func (ep *Endpoint) post(ctx context.Context, f Frame, extra ...interface{}) {
	payload, err := ep.cfg.Codec.Serialize(f)
	if err != nil {
		ep.handleGeneralError(&GeneralError{Err: err})
		return
	}
	if err := ep.cfg.Post(ctx, payload, extra...); err != nil {
		ep.handleGeneralError(&GeneralError{Err: err})
	}
}

// handleRequestFrame serves an inbound Request: it acks (if correlated),
// resolves the function, invokes it, and replies with a Response or a
// stream, or silently does nothing for a fire-and-forget event.
func (ep *Endpoint) handleRequestFrame(f Frame, extra []interface{}) {
	ctx := ep.bindCtx(context.Background())

	if f.ID != "" {
		ep.post(ctx, Frame{Tag: TagAck, ID: f.ID}, extra...)
	}

	fn, ok := ep.resolve(ctx, f.Method)
	if !ok {
		if f.Optional {
			fn = func(context.Context, []json.RawMessage) (interface{}, error) { return nil, nil }
			ok = true
		}
	}
	if !ok {
		if f.ID != "" {
			ep.post(ctx, Frame{Tag: TagResponse, ID: f.ID, Err: &WireError{Kind: "not-found", Message: (&NotFoundError{Path: f.Method}).Error(), Path: f.Method}}, extra...)
		}
		return
	}

	var args []json.RawMessage
	if len(f.Args) > 0 {
		_ = json.Unmarshal(f.Args, &args)
	}

	ep.pool.Process(func() { ep.invoke(ctx, f, fn, args, extra) })
}

func (ep *Endpoint) invoke(ctx context.Context, f Frame, fn Func, args []json.RawMessage, extra []interface{}) {
	result, err := ep.callFunc(ctx, fn, f.Method, args)
	if err != nil {
		suppress := false
		var custom error
		if ep.cfg.OnFunctionError != nil {
			suppress, custom = ep.cfg.OnFunctionError(f.Method, rawArgsToAny(args), err)
		}
		if suppress {
			return
		}
		if custom != nil {
			err = custom
		}
		if f.ID != "" {
			ep.post(ctx, Frame{Tag: TagResponse, ID: f.ID, Err: newWireError(f.Method, &FunctionError{Path: f.Method, Err: err})}, extra...)
		}
		return
	}

	if ch, isStream := result.(<-chan StreamItem); isStream {
		ep.streamOutbound(ctx, f, ch, extra)
		return
	}

	if f.ID == "" {
		return // event: no response ever sent
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		// retry once, reporting the marshal failure itself
		ep.post(ctx, Frame{Tag: TagResponse, ID: f.ID, Err: &WireError{Kind: "general-error", Message: merr.Error(), Path: f.Method}}, extra...)
		return
	}
	ep.post(ctx, Frame{Tag: TagResponse, ID: f.ID, Result: raw}, extra...)
}

// callFunc invokes fn, recovering a panic into a FunctionError so a
// misbehaving local function cannot take down the dispatch goroutine.
func (ep *Endpoint) callFunc(ctx context.Context, fn Func, path string, args []json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FunctionError{Path: path, Err: panicToError(r)}
		}
	}()
	return fn(ctx, args)
}

func (ep *Endpoint) streamOutbound(ctx context.Context, f Frame, ch <-chan StreamItem, extra []interface{}) {
	for item := range ch {
		if item.Err != nil {
			ep.post(ctx, Frame{Tag: TagStreamError, ID: f.ID, Err: newWireError(f.Method, item.Err)}, extra...)
			return
		}
		if item.Done {
			ep.post(ctx, Frame{Tag: TagStreamEnd, ID: f.ID}, extra...)
			return
		}
		raw, err := json.Marshal(item.Value)
		if err != nil {
			ep.handleGeneralError(&GeneralError{Err: err})
			continue
		}
		ep.post(ctx, Frame{Tag: TagStreamNext, ID: f.ID, Value: raw}, extra...)
	}
	ep.post(ctx, Frame{Tag: TagStreamEnd, ID: f.ID}, extra...)
}

func (ep *Endpoint) handleResponseFrame(f Frame) {
	pc, ok := ep.calls.remove(f.ID)
	if !ok {
		return
	}
	pc.clearTimers()
	if f.Err != nil {
		pc.settle(callResult{err: f.Err})
		return
	}
	pc.settle(callResult{frame: f})
}

// handleAckFrame clears the ack timer for whichever table the id belongs
// to — a response-expecting call or a streamed call — and arms the
// response timer in its place. A stream's ack timer must be cleared here
// the same way a call's is, or AckTimeout's timer fires later regardless,
// killing an in-progress stream that already acked.
func (ep *Endpoint) handleAckFrame(f Frame) {
	if pc, ok := ep.calls.get(f.ID); ok {
		already, ackTimer := pc.markAckReceived()
		if already {
			return
		}
		ackTimer.Stop()
		if ep.cfg.ResponseTimeout >= 0 {
			pc.setRespTimer(startTimer(ep.cfg.ResponseTimeout, func() {
				ep.onResponseTimeout(f.ID, pc, pc.path, pc.args)
			}))
		}
		return
	}
	if s, ok := ep.streams.get(f.ID); ok {
		already, ackTimer := s.markAckReceived()
		if already {
			return
		}
		ackTimer.Stop()
		if ep.cfg.ResponseTimeout >= 0 {
			s.setRespTimer(startTimer(ep.cfg.ResponseTimeout, func() {
				ep.onStreamResponseTimeout(f.ID, s, s.path, s.args)
			}))
		}
	}
}

func (ep *Endpoint) handleStreamNextFrame(f Frame) {
	if s, ok := ep.streams.get(f.ID); ok {
		s.pushNext(f)
	}
}

func (ep *Endpoint) handleStreamEndFrame(f Frame) {
	if s, ok := ep.streams.get(f.ID); ok {
		s.clearTimers()
		s.finish()
	}
}

func (ep *Endpoint) handleStreamErrorFrame(f Frame) {
	if s, ok := ep.streams.get(f.ID); ok {
		s.clearTimers()
		s.fail(f.Err)
	}
}

func rawArgsToAny(args []json.RawMessage) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		var v interface{}
		_ = json.Unmarshal(a, &v)
		out[i] = v
	}
	return out
}
