package xrpc

import (
	"context"
	"time"

	"github.com/fabregas/xrpc/xrpclog"
)

// Binding selects the receiver context a local Func is invoked against.
// It is fixed at construction.
type Binding int

const (
	// BindEndpoint is the default: functions reach their own endpoint
	// back via the ctx passed to them (see FromContext).
	BindEndpoint Binding = iota
	// BindFunctions passes functions a plain ctx: no endpoint handle is
	// threaded through, and the FuncTree is not reachable from it either.
	BindFunctions
)

// Poster posts an opaque payload over the transport and reports whether
// the send completed. Extra trailing arguments are forwarded verbatim
// from a Registrar's receive callback to every Post performed in
// response to it.
type Poster func(ctx context.Context, payload Payload, extra ...interface{}) error

// Registrar registers a receiver invoked with each inbound opaque
// payload, returning an optional unregister function invoked on Close.
type Registrar func(receive func(payload Payload, extra ...interface{})) (unregister func(), err error)

// HookFunc intercepts outbound non-event, non-stream calls. It must do
// exactly one of: call next (optionally with a modified Request Frame)
// and propagate its result; short-circuit by returning a synthetic
// Response Frame (build one with ResolveFrame) without calling next; or
// return an error (routed to OnGeneralError). Go has no exceptions, so
// the next / resolve / throw contract collapses to two explicit return
// paths plus a plain error return.
type HookFunc func(ctx context.Context, req Frame, next func(Frame) (Frame, error)) (Frame, error)

const defaultResponseTimeout = 60 * time.Second

// EndpointConfig is immutable for the life of an Endpoint, built with
// functional Option values.
type EndpointConfig struct {
	Post     Poster
	Register Registrar
	Codec    Codec

	Binding   Binding
	Meta      interface{}
	Events    map[string]bool
	Functions *FuncTree

	ResponseTimeout time.Duration
	AckTimeout      *time.Duration

	ProxyEnabled bool
	Resolver     ResolverFunc
	Hook         HookFunc

	OnGeneralError  func(err error) bool
	OnFunctionError func(path string, args []interface{}, err error) (bool, error)
	OnTimeout       func(path string, args []interface{}) (bool, error)
	OnAckTimeout    func(path string, args []interface{}) (bool, error)

	Logger xrpclog.Logger
}

// Option configures an EndpointConfig.
type Option func(*EndpointConfig)

func newConfig(post Poster, register Registrar, opts ...Option) EndpointConfig {
	cfg := EndpointConfig{
		Post:            post,
		Register:        register,
		Codec:           JSONCodec,
		Functions:       NewFuncTree(),
		Events:          make(map[string]bool),
		ResponseTimeout: defaultResponseTimeout,
		ProxyEnabled:    true,
		Logger:          xrpclog.Discard,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func WithCodec(c Codec) Option { return func(cfg *EndpointConfig) { cfg.Codec = c } }

func WithFunctions(t *FuncTree) Option { return func(cfg *EndpointConfig) { cfg.Functions = t } }

func WithBinding(b Binding) Option { return func(cfg *EndpointConfig) { cfg.Binding = b } }

func WithMeta(meta interface{}) Option { return func(cfg *EndpointConfig) { cfg.Meta = meta } }

// WithEvents marks the given method names as events: calling them via the
// proxy surface defaults to fire-and-forget semantics.
func WithEvents(names ...string) Option {
	return func(cfg *EndpointConfig) {
		for _, n := range names {
			cfg.Events[n] = true
		}
	}
}

// WithResponseTimeout sets the response timer duration; negative disables
// it entirely.
func WithResponseTimeout(d time.Duration) Option {
	return func(cfg *EndpointConfig) { cfg.ResponseTimeout = d }
}

// WithAckTimeout arms the ack timer. A value of 0 means "must already be
// acknowledged by the time the timer check runs".
func WithAckTimeout(d time.Duration) Option {
	return func(cfg *EndpointConfig) { cfg.AckTimeout = &d }
}

func WithProxyEnabled(enabled bool) Option {
	return func(cfg *EndpointConfig) { cfg.ProxyEnabled = enabled }
}

func WithResolver(r ResolverFunc) Option { return func(cfg *EndpointConfig) { cfg.Resolver = r } }

func WithHook(h HookFunc) Option { return func(cfg *EndpointConfig) { cfg.Hook = h } }

func WithGeneralErrorHandler(f func(err error) bool) Option {
	return func(cfg *EndpointConfig) { cfg.OnGeneralError = f }
}

func WithFunctionErrorHandler(f func(path string, args []interface{}, err error) (bool, error)) Option {
	return func(cfg *EndpointConfig) { cfg.OnFunctionError = f }
}

func WithTimeoutHandler(f func(path string, args []interface{}) (bool, error)) Option {
	return func(cfg *EndpointConfig) { cfg.OnTimeout = f }
}

func WithAckTimeoutHandler(f func(path string, args []interface{}) (bool, error)) Option {
	return func(cfg *EndpointConfig) { cfg.OnAckTimeout = f }
}

func WithLogger(l xrpclog.Logger) Option { return func(cfg *EndpointConfig) { cfg.Logger = l } }
