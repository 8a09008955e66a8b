// Package monitoring holds the diagnostic logger shared by the pipeline stages.
package monitoring

import (
	"context"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a recoverable anomaly. Warnings never stop a pipeline run.
func Warnf(format string, v ...interface{}) {
	Logf("Warning: "+format, v...)
}

// WithPrefix returns a logger that prepends prefix to every line it writes
// through the current Logf.
func WithPrefix(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Logger is a printf-style sink scoped to one unit of work, such as a run
type Logger func(format string, v ...interface{})

// Logf writes one line
func (l Logger) Logf(format string, v ...interface{}) { l(format, v...) }

// Warnf writes one warning line
func (l Logger) Warnf(format string, v ...interface{}) { l("Warning: "+format, v...) }

type loggerKey struct{}

// WithLogger returns a context carrying l
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger carried by ctx, or one writing through the
// package Logf
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return func(format string, v ...interface{}) { Logf(format, v...) }
}
