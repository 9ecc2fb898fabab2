// Package pipeconn frames xrpc payloads over any net.Conn with a 4-byte
// big-endian length prefix. Works equally well over TCP or a Unix domain
// socket: ListenUnix/Dial below differ only in the net.Listen/Dial
// network name from a TCP pair.
package pipeconn

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/fabregas/xrpc"
)

const maxFrameSize = 64 << 20

// Conn frames an underlying net.Conn for use as an xrpc transport. Payloads
// are []byte, so pair it with xrpc.JSONCodec or any other byte-oriented
// Codec — never xrpc.IdentityCodec.
type Conn struct {
	nc    net.Conn
	wlock sync.Mutex
}

// New wraps an already-connected net.Conn.
func New(nc net.Conn) *Conn { return &Conn{nc: nc} }

// Dial connects to a listener started with ListenUnix or net.Listen and wraps
// the resulting connection.
func Dial(ctx context.Context, network, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return New(nc), nil
}

// ListenUnix prepares a Unix domain socket listener at endpoint, removing
// any stale socket file first.
func ListenUnix(endpoint string) (net.Listener, error) {
	os.Remove(endpoint)
	l, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, err
	}
	os.Chmod(endpoint, 0600)
	return l, nil
}

// Post implements xrpc.Poster.
func (c *Conn) Post(_ context.Context, payload xrpc.Payload, _ ...interface{}) error {
	buf, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("pipeconn: expected []byte payload, got %T", payload)
	}
	if len(buf) > maxFrameSize {
		return fmt.Errorf("pipeconn: frame too large (%d bytes)", len(buf))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))

	c.wlock.Lock()
	defer c.wlock.Unlock()
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.nc.Write(buf)
	return err
}

// Register implements xrpc.Registrar: it reads length-prefixed frames
// until the connection errors or closes.
func (c *Conn) Register(receive func(payload xrpc.Payload, extra ...interface{})) (func(), error) {
	go c.readLoop(receive)
	return func() { c.nc.Close() }, nil
}

func (c *Conn) readLoop(receive func(payload xrpc.Payload, extra ...interface{})) {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(c.nc, hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > maxFrameSize {
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.nc, buf); err != nil {
			return
		}
		receive(buf)
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
