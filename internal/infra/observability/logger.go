// Package observability defines shared logging primitives.
package observability

import (
	"time"

	"go.uber.org/zap"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String builds a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Duration builds a duration field.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Time builds a timestamp field.
func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }

// Err builds the conventional error field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Nop returns a logger that discards everything.
func Nop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct{ L *zap.Logger }

// NewZapLogger wraps l; a nil l yields a no-op zap logger.
func NewZapLogger(l *zap.Logger) ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{L: l}
}

func (z ZapLogger) Debug(msg string, f ...Field) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f ...Field)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f ...Field)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f ...Field) { z.L.Error(msg, zf(f)...) }

func zf(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
