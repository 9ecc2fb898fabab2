package xrpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newLinkedEndpoints(t *testing.T, optsA, optsB []Option) (*Endpoint, *Endpoint) {
	t.Helper()
	a, b := newFakeLinkPair()
	ea, err := New(a.Post, a.Register, append([]Option{WithCodec(IdentityCodec)}, optsA...)...)
	if err != nil {
		t.Fatalf("new endpoint a: %s", err)
	}
	eb, err := New(b.Post, b.Register, append([]Option{WithCodec(IdentityCodec)}, optsB...)...)
	if err != nil {
		t.Fatalf("new endpoint b: %s", err)
	}
	return ea, eb
}

func echoFunc(_ context.Context, args []json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(args[0], &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestCallEcho(t *testing.T) {
	serverFuncs := NewFuncTree()
	serverFuncs.Set("echo", echoFunc)
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := ea.Call(ctx, "echo", "hello")
	if err != nil {
		t.Fatalf("call: %s", err)
	}
	var got string
	if err := json.Unmarshal(res, &got); err != nil {
		t.Fatalf("unmarshal result: %s", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestCallEvent(t *testing.T) {
	received := make(chan string, 1)
	serverFuncs := NewFuncTree()
	serverFuncs.Set("notify", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		var msg string
		if len(args) > 0 {
			json.Unmarshal(args[0], &msg)
		}
		received <- msg
		return nil, nil
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	if err := ea.CallEvent(context.Background(), "notify", "fire and forget"); err != nil {
		t.Fatalf("call event: %s", err)
	}

	select {
	case msg := <-received:
		if msg != "fire and forget" {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestCallNestedPath(t *testing.T) {
	serverFuncs := NewFuncTree()
	serverFuncs.Set("math.ops.add", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		var a, b int
		json.Unmarshal(args[0], &a)
		json.Unmarshal(args[1], &b)
		return a + b, nil
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	res, err := ea.Call(context.Background(), "math.ops.add", 3, 4)
	if err != nil {
		t.Fatalf("call: %s", err)
	}
	var sum int
	json.Unmarshal(res, &sum)
	if sum != 7 {
		t.Fatalf("got %d, want 7", sum)
	}
}

func TestCallOptionalMissingMethod(t *testing.T) {
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(NewFuncTree())})
	defer ea.Close(nil)
	defer eb.Close(nil)

	res, err := ea.CallOptional(context.Background(), "does.not.exist")
	if err != nil {
		t.Fatalf("call optional: %s", err)
	}
	if string(res) != "null" {
		t.Fatalf("expected a JSON null result, got %s", res)
	}
}

func TestCallMissingMethodIsNotFound(t *testing.T) {
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(NewFuncTree())})
	defer ea.Close(nil)
	defer eb.Close(nil)

	_, err := ea.Call(context.Background(), "does.not.exist")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %#v", err)
	}
}

func TestAckTimeoutRejectsWhenUnacked(t *testing.T) {
	a, _ := newFakeLinkPair()
	// never register a receiver on the peer side: acks never arrive.
	ackTimeout := 20 * time.Millisecond
	ea, err := New(a.Post, a.Register,
		WithCodec(IdentityCodec),
		WithAckTimeout(ackTimeout),
	)
	if err != nil {
		t.Fatalf("new endpoint: %s", err)
	}
	defer ea.Close(nil)

	_, err = ea.Call(context.Background(), "whatever")
	if err == nil {
		t.Fatal("expected ack timeout error")
	}
	if _, ok := err.(*AckTimeoutError); !ok {
		t.Fatalf("got %#v, want *AckTimeoutError", err)
	}
}

func TestResponseTimeoutStartsOnlyAfterAck(t *testing.T) {
	// A server that acks immediately but never answers: the response
	// timer should only begin once the ack is observed, and the caller
	// should still see a TimeoutError (not an AckTimeoutError) once it
	// fires.
	serverFuncs := NewFuncTree() // deliberately empty; request is never answered below
	_ = serverFuncs

	a, b := newFakeLinkPair()
	ea, err := New(a.Post, a.Register,
		WithCodec(IdentityCodec),
		WithAckTimeout(200*time.Millisecond),
		WithResponseTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new endpoint: %s", err)
	}
	defer ea.Close(nil)

	// manually ack every request the fake peer receives, but never
	// reply, to isolate the response-timer behavior.
	unregister, err := b.Register(func(payload Payload, extra ...interface{}) {
		f, ok := payload.(Frame)
		if !ok || f.Tag != TagRequest {
			return
		}
		b.Post(context.Background(), Frame{Tag: TagAck, ID: f.ID})
	})
	if err != nil {
		t.Fatalf("register: %s", err)
	}
	defer unregister()

	start := time.Now()
	_, err = ea.Call(context.Background(), "never.answered")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("got %#v, want *TimeoutError", err)
	}
	// the ack timer (200ms) must not have fired first.
	if elapsed >= 150*time.Millisecond {
		t.Fatalf("took %s, response timer should fire well before the ack timer", elapsed)
	}
}

func TestCallStreamAckTimeoutRejectsWhenUnacked(t *testing.T) {
	a, _ := newFakeLinkPair()
	// never register a receiver on the peer side: acks never arrive.
	ackTimeout := 20 * time.Millisecond
	ea, err := New(a.Post, a.Register,
		WithCodec(IdentityCodec),
		WithAckTimeout(ackTimeout),
	)
	if err != nil {
		t.Fatalf("new endpoint: %s", err)
	}
	defer ea.Close(nil)

	iter := ea.CallStream(context.Background(), "whatever")
	_, err, ok := iter.Next()
	if ok {
		t.Fatal("expected ack timeout, stream reported ok")
	}
	if _, ok := err.(*AckTimeoutError); !ok {
		t.Fatalf("got %#v, want *AckTimeoutError", err)
	}
}

func TestCallStreamAckDoesNotLaterKillStream(t *testing.T) {
	// A peer that acks promptly and then streams a few values: the ack
	// timer must be cleared on Ack, or it fires later regardless and
	// fails the stream even though it acked correctly and is mid-flight.
	serverFuncs := NewFuncTree()
	serverFuncs.Set("slow.count", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		ch := make(chan StreamItem)
		go func() {
			defer close(ch)
			time.Sleep(60 * time.Millisecond) // longer than the ack timeout below
			ch <- StreamItem{Value: 1}
			ch <- StreamItem{Done: true}
		}()
		return (<-chan StreamItem)(ch), nil
	})
	ea, eb := newLinkedEndpoints(t, []Option{WithAckTimeout(20 * time.Millisecond)}, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	iter := ea.CallStream(context.Background(), "slow.count")
	v, err, ok := iter.Next()
	if err != nil {
		t.Fatalf("next: %s", err)
	}
	if !ok {
		t.Fatal("stream ended early")
	}
	var n int
	json.Unmarshal(v, &n)
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	_, _, ok = iter.Next()
	if ok {
		t.Fatal("expected stream to end")
	}
}

func TestCallStreamResponseTimeoutFiresWhenPeerNeverStreams(t *testing.T) {
	// A peer that acks but never sends StreamNext/StreamEnd/StreamError:
	// unlike Call, a stream previously had no response timer at all, so
	// this would hang forever without the fix.
	a, b := newFakeLinkPair()
	ea, err := New(a.Post, a.Register,
		WithCodec(IdentityCodec),
		WithResponseTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new endpoint: %s", err)
	}
	defer ea.Close(nil)

	unregister, err := b.Register(func(payload Payload, extra ...interface{}) {
		f, ok := payload.(Frame)
		if !ok || f.Tag != TagRequest {
			return
		}
		b.Post(context.Background(), Frame{Tag: TagAck, ID: f.ID})
	})
	if err != nil {
		t.Fatalf("register: %s", err)
	}
	defer unregister()

	iter := ea.CallStream(context.Background(), "never.streamed")
	_, err, ok := iter.Next()
	if ok {
		t.Fatal("expected timeout, stream reported ok")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("got %#v, want *TimeoutError", err)
	}
}

func TestCallStreamEarlyBreak(t *testing.T) {
	serverFuncs := NewFuncTree()
	serverFuncs.Set("count", func(_ context.Context, args []json.RawMessage) (interface{}, error) {
		ch := make(chan StreamItem)
		go func() {
			defer close(ch)
			for i := 0; i < 100; i++ {
				ch <- StreamItem{Value: i}
			}
		}()
		return (<-chan StreamItem)(ch), nil
	})
	ea, eb := newLinkedEndpoints(t, nil, []Option{WithFunctions(serverFuncs)})
	defer ea.Close(nil)
	defer eb.Close(nil)

	iter := ea.CallStream(context.Background(), "count")
	var got []int
	for i := 0; i < 3; i++ {
		v, err, ok := iter.Next()
		if err != nil {
			t.Fatalf("next: %s", err)
		}
		if !ok {
			t.Fatal("stream ended early")
		}
		var n int
		json.Unmarshal(v, &n)
		got = append(got, n)
	}
	iter.Close() // break before exhausting the stream

	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestCloseRejectsPendingCalls(t *testing.T) {
	a, _ := newFakeLinkPair()
	ea, err := New(a.Post, a.Register, WithCodec(IdentityCodec))
	if err != nil {
		t.Fatalf("new endpoint: %s", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ea.Call(context.Background(), "whatever")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the call register
	ea.Close(nil)

	select {
	case err := <-done:
		if _, ok := err.(*ClosedError); !ok {
			t.Fatalf("got %#v, want *ClosedError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("call never settled after Close")
	}
}
