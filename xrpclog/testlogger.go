package xrpclog

import "testing"

// NewTestLogger adapts Logger to t.Logf for use in engine-internal tests.
func NewTestLogger(t testing.TB) Logger {
	return &testLogger{t}
}

type testLogger struct{ t testing.TB }

func (l *testLogger) Critical(args ...interface{})                 { l.t.Log(append([]interface{}{"[CRITICAL]"}, args...)...) }
func (l *testLogger) Criticalf(format string, args ...interface{})  { l.t.Logf("[CRITICAL] "+format, args...) }
func (l *testLogger) Error(args ...interface{})                    { l.t.Log(append([]interface{}{"[ERROR]"}, args...)...) }
func (l *testLogger) Errorf(format string, args ...interface{})    { l.t.Logf("[ERROR] "+format, args...) }
func (l *testLogger) Warning(args ...interface{})                  { l.t.Log(append([]interface{}{"[WARNING]"}, args...)...) }
func (l *testLogger) Warningf(format string, args ...interface{})  { l.t.Logf("[WARNING] "+format, args...) }
func (l *testLogger) Info(args ...interface{})                     { l.t.Log(append([]interface{}{"[INFO]"}, args...)...) }
func (l *testLogger) Infof(format string, args ...interface{})     { l.t.Logf("[INFO] "+format, args...) }
func (l *testLogger) Debug(args ...interface{})                    { l.t.Log(append([]interface{}{"[DEBUG]"}, args...)...) }
func (l *testLogger) Debugf(format string, args ...interface{})    { l.t.Logf("[DEBUG] "+format, args...) }
