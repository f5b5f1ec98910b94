// Package logging wraps go.uber.org/zap behind a small interface so
// the rest of this module stays silent by default, the way a library
// (and not a service) should.
package logging

import "go.uber.org/zap"

// Logger is the subset of *zap.SugaredLogger this module calls. A host
// application wires in a real logger with Set; until then every
// component uses noop, which never allocates nor writes.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}

var current Logger = noopLogger{}

// Set installs the logger used by every component in this module from
// this point forward. Passing nil restores the no-op default.
func Set(l Logger) {
	if l == nil {
		current = noopLogger{}
		return
	}
	current = l
}

// FromZap adapts a *zap.Logger (e.g. a host's production logger) into
// the Logger interface via its sugared form.
func FromZap(z *zap.Logger) Logger {
	return sugared{z.Sugar()}
}

type sugared struct {
	s *zap.SugaredLogger
}

func (s sugared) Debugw(msg string, kv ...interface{}) { s.s.Debugw(msg, kv...) }
func (s sugared) Infow(msg string, kv ...interface{})  { s.s.Infow(msg, kv...) }
func (s sugared) Warnw(msg string, kv ...interface{})  { s.s.Warnw(msg, kv...) }
func (s sugared) Errorw(msg string, kv ...interface{}) { s.s.Errorw(msg, kv...) }

// L returns the currently installed logger.
func L() Logger {
	return current
}
