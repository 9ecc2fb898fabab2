package xrpc

import "context"

// fakeLink is a minimal in-memory transport pair for exercising an
// Endpoint without a real socket: two channels wired to each other.
type fakeLink struct {
	out chan Payload
	in  chan Payload
}

func newFakeLinkPair() (a, b *fakeLink) {
	ab := make(chan Payload, 16)
	ba := make(chan Payload, 16)
	return &fakeLink{out: ab, in: ba}, &fakeLink{out: ba, in: ab}
}

func (l *fakeLink) Post(ctx context.Context, payload Payload, _ ...interface{}) error {
	select {
	case l.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLink) Register(receive func(payload Payload, extra ...interface{})) (func(), error) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case p := <-l.in:
				receive(p)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }, nil
}
