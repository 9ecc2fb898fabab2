// Package xrpclog defines the Logger interface xrpc endpoints are
// constructed with, and backs it for real use with
// github.com/op/go-logging.
package xrpclog

import (
	"os"

	"github.com/op/go-logging"
)

// Logger is the level-gated logging surface every *xrpc.Endpoint is
// constructed with.
type Logger interface {
	Critical(args ...interface{})
	Criticalf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

var stderrFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} %{module} ▶ %{message}`,
)

// New returns a Logger backed by op/go-logging, writing to stderr at the
// given level with the given module prefix.
func New(module string, level logging.Level) Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, stderrFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, module)

	log := logging.MustGetLogger(module)
	log.SetBackend(leveled)
	return log
}

// Discard is a Logger whose methods do nothing, for callers that want no
// logging at all.
var Discard Logger = discard{}

type discard struct{}

func (discard) Critical(args ...interface{})                 {}
func (discard) Criticalf(format string, args ...interface{}) {}
func (discard) Error(args ...interface{})                    {}
func (discard) Errorf(format string, args ...interface{})    {}
func (discard) Warning(args ...interface{})                  {}
func (discard) Warningf(format string, args ...interface{})  {}
func (discard) Info(args ...interface{})                     {}
func (discard) Infof(format string, args ...interface{})     {}
func (discard) Debug(args ...interface{})                    {}
func (discard) Debugf(format string, args ...interface{})    {}
