// Package inproc wires two xrpc.Endpoints together in one process without
// a socket. There is no byte-oriented codec at all: frames pass by direct
// value over a channel, so Pair is meant to be used with xrpc.IdentityCodec.
package inproc

import (
	"context"

	"github.com/fabregas/xrpc"
)

// Channel is one side of an in-process duplex link.
type Channel struct {
	out chan xrpc.Payload
	in  chan xrpc.Payload
}

// Pair returns two Channels wired to each other: anything Posted on a is
// delivered to b's registered receiver, and vice versa.
func Pair() (a, b *Channel) {
	ab := make(chan xrpc.Payload)
	ba := make(chan xrpc.Payload)
	a = &Channel{out: ab, in: ba}
	b = &Channel{out: ba, in: ab}
	return a, b
}

// Post implements xrpc.Poster.
func (c *Channel) Post(ctx context.Context, payload xrpc.Payload, _ ...interface{}) error {
	select {
	case c.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register implements xrpc.Registrar: it starts a goroutine delivering
// every payload the peer Channel posts until unregister is called.
func (c *Channel) Register(receive func(payload xrpc.Payload, extra ...interface{})) (func(), error) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case p := <-c.in:
				receive(p)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }, nil
}
