package xrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFunctionErrorPropagatesToCaller(t *testing.T) {
	serverFuncs := NewFuncTree()
	serverFuncs.Set("fail", func(context.Context, []json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	_, err := ea.Call(context.Background(), "fail")
	if err == nil {
		t.Fatal("expected an error")
	}
	fnErr, ok := err.(*WireError)
	if !ok {
		t.Fatalf("got %#v, want *WireError", err)
	}
	if fnErr.Kind != "function-error" {
		t.Fatalf("kind = %q", fnErr.Kind)
	}
}

func TestPanicInFunctionIsRecovered(t *testing.T) {
	serverFuncs := NewFuncTree()
	serverFuncs.Set("panics", func(context.Context, []json.RawMessage) (interface{}, error) {
		panic("something broke")
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ea.Call(ctx, "panics")
	if err == nil {
		t.Fatal("expected an error, not a hung call or a crash")
	}
}

func TestHookCanShortCircuitWithoutReachingPeer(t *testing.T) {
	// the peer has no functions registered at all; if the hook did not
	// intercept, this call would come back not-found.
	ea, eb := newLinkedEndpoints(t, []Option{
		WithHook(func(ctx context.Context, req Frame, next func(Frame) (Frame, error)) (Frame, error) {
			if req.Method == "cached.value" {
				return ResolveFrame(req, "from-cache")
			}
			return next(req)
		}),
	}, []Option{WithFunctions(NewFuncTree())})
	defer ea.Close(nil)
	defer eb.Close(nil)

	res, err := ea.Call(context.Background(), "cached.value")
	if err != nil {
		t.Fatalf("call: %s", err)
	}
	var got string
	json.Unmarshal(res, &got)
	if got != "from-cache" {
		t.Fatalf("got %q", got)
	}
}

func TestHookCanRejectWithoutReachingPeer(t *testing.T) {
	sentinel := errors.New("blocked by hook")
	ea, eb := newLinkedEndpoints(t, []Option{
		WithHook(func(ctx context.Context, req Frame, next func(Frame) (Frame, error)) (Frame, error) {
			return Frame{}, sentinel
		}),
	}, nil)
	defer ea.Close(nil)
	defer eb.Close(nil)

	_, err := ea.Call(context.Background(), "anything")
	if err != sentinel {
		t.Fatalf("got %v, want %v", err, sentinel)
	}
}

func TestFunctionErrorHandlerCanSuppress(t *testing.T) {
	suppressed := make(chan struct{}, 1)
	serverFuncs := NewFuncTree()
	serverFuncs.Set("fail", func(context.Context, []json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{
		WithFunctions(serverFuncs),
		WithFunctionErrorHandler(func(path string, args []interface{}, err error) (bool, error) {
			suppressed <- struct{}{}
			return true, nil
		}),
	})
	defer ea.Close(nil)
	defer eb.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := ea.Call(ctx, "fail")
	if err == nil {
		t.Fatal("expected the call to time out since the server suppressed its response")
	}
	select {
	case <-suppressed:
	default:
		t.Fatal("expected the function error handler to have run")
	}
}
