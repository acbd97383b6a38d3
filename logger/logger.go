// Package logger defines the minimal structured-logging interface used
// throughout the client library, with a zap-backed default implementation.
//
// The interface intentionally only exposes printf-style leveled methods
// (Debugf/Infof/Warnf/Errorf/Fatalf) so that callers can supply any
// logging backend — the library itself never depends on zap's types
// directly outside this package.
package logger

import (
	"go.uber.org/zap"
)

// Logger is the leveled, printf-style logging interface every component
// of the client library is constructed with.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

var defaultLogger Logger

func init() {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	defaultLogger = &zapLogger{sugar: z.Sugar()}
}

// GetDefaultLogger returns the process-wide default logger. Applications
// that want different output (level, encoding, sinks) should construct
// their own zap.Logger and wrap it with NewZapLogger instead.
func GetDefaultLogger() Logger {
	return defaultLogger
}

// NewZapLogger adapts an existing *zap.Logger to the Logger interface.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{sugar: z.Sugar()}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

// NoopLogger implements Logger as a no-op, useful in tests.
type NoopLogger struct{}

func (NoopLogger) Debugf(string, ...interface{}) {}
func (NoopLogger) Infof(string, ...interface{})  {}
func (NoopLogger) Warnf(string, ...interface{})  {}
func (NoopLogger) Errorf(string, ...interface{}) {}
func (NoopLogger) Fatalf(string, ...interface{}) {}
