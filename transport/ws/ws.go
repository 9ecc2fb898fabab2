// Package ws adapts a gorilla/websocket connection into the Poster and
// Registrar pair an xrpc.Endpoint needs: a write-mutex guard around
// WriteMessage, a randomized ping period so many endpoints dialing at once
// don't all ping in lockstep, and pong-driven read deadline extension.
package ws

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fabregas/xrpc"
)

// ErrClosed is returned by Post once the connection has gone away.
var ErrClosed = fmt.Errorf("ws: closed connection")

// Conn wraps one websocket connection and exposes it as an xrpc
// transport. Frames are carried as JSON text messages: pair Conn with
// xrpc.JSONCodec (the endpoint default).
type Conn struct {
	conn *websocket.Conn

	wlock sync.Mutex

	pingTicker *time.Ticker
	pongWait   time.Duration
	writeWait  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Conn's keepalive timing.
type Option func(*Conn)

// WithPongWait overrides the default 60s pong wait / read deadline.
func WithPongWait(d time.Duration) Option { return func(c *Conn) { c.pongWait = d } }

// WithWriteWait overrides the default 10s write deadline.
func WithWriteWait(d time.Duration) Option { return func(c *Conn) { c.writeWait = d } }

func newConn(raw *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:      raw,
		pongWait:  60 * time.Second,
		writeWait: 10 * time.Second,
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	period := time.Duration(rand.Intn(20)+70) * c.pongWait / 100
	c.pingTicker = time.NewTicker(period)
	return c
}

// Dial connects to a peer's websocket endpoint and returns a ready Conn.
func Dial(url string, opts ...Option) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(conn, opts...), nil
}

// Post implements xrpc.Poster: it writes payload as a text frame.
func (c *Conn) Post(_ context.Context, payload xrpc.Payload, _ ...interface{}) error {
	buf, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("ws: expected []byte payload, got %T", payload)
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.wlock.Lock()
	defer c.wlock.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	err := c.conn.WriteMessage(websocket.TextMessage, buf)
	if err == websocket.ErrCloseSent {
		return ErrClosed
	}
	return err
}

// Register implements xrpc.Registrar: it starts the read and ping loops
// and delivers every inbound text message to receive.
func (c *Conn) Register(receive func(payload xrpc.Payload, extra ...interface{})) (func(), error) {
	go c.pingLoop()
	go c.readLoop(receive)
	return func() { c.Close() }, nil
}

func (c *Conn) readLoop(receive func(payload xrpc.Payload, extra ...interface{})) {
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	defer c.Close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		receive(raw)
	}
}

func (c *Conn) pingLoop() {
	for {
		select {
		case <-c.pingTicker.C:
			c.wlock.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.wlock.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pingTicker.Stop()
		c.wlock.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		c.wlock.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Upgrader accepts inbound websocket connections over an http.Server and
// hands each one to a factory that wires it to a new endpoint.
type Upgrader struct {
	upgrader websocket.Upgrader
	onConn   func(*Conn)
	opts     []Option
}

// NewUpgrader builds an http.Handler-compatible acceptor. onConn is
// called once per accepted connection with a ready Conn.
func NewUpgrader(onConn func(*Conn), opts ...Option) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		onConn:   onConn,
		opts:     opts,
	}
}

func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	u.onConn(newConn(raw, u.opts...))
}
