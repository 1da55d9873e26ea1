// Package logging defines the logger contract busflow runs against and the
// adapters for slog, zerolog, Watermill and entry style loggers.
package logging

import (
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
)

// Field keys shared by every busflow log line.
const (
	FieldMessageID     = "message_id"
	FieldCorrelationID = "correlation_id"
	FieldAddress       = "address"
	FieldInputAddress  = "input_address"
	FieldDestination   = "destination"
	FieldReason        = "reason"
	FieldHandler       = "handler"
	FieldQueue         = "queue"
)

// LogFields holds structured key/value pairs attached to a log line.
type LogFields map[string]any

// Merge returns a new set holding f overlaid with other. Neither input is
// modified.
func (f LogFields) Merge(other LogFields) LogFields {
	if len(f) == 0 && len(other) == 0 {
		return nil
	}
	out := make(LogFields, len(f)+len(other))
	maps.Copy(out, f)
	maps.Copy(out, other)
	return out
}

// Add sets key unless value is an empty string and returns f. A nil f is
// allocated.
func (f LogFields) Add(key string, value any) LogFields {
	if s, ok := value.(string); ok && s == "" {
		return f
	}
	if f == nil {
		f = make(LogFields, 1)
	}
	f[key] = value
	return f
}

// ServiceLogger is what services, moves and hooks log through.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Discard returns a ServiceLogger that drops everything.
func Discard() ServiceLogger {
	return &watermillServiceLogger{inner: watermill.NopLogger{}}
}

// OrDiscard returns log, or Discard when log is nil.
func OrDiscard(log ServiceLogger) ServiceLogger {
	if log == nil {
		return Discard()
	}
	return log
}

// NewSlogServiceLogger adapts a slog.Logger. Trace lines use watermill's
// LevelTrace, four below slog.LevelDebug.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("busflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLogger(log))
}

// NewWatermillServiceLogger adapts a Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("busflow: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillServiceLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, watermill.LogFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, watermill.LogFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, watermill.LogFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, watermill.LogFields(fields))
}

// NewWatermillAdapter turns a ServiceLogger into the LoggerAdapter the
// Watermill router and broker adapters expect.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("busflow: ServiceLogger cannot be nil")
	}
	if w, ok := log.(*watermillServiceLogger); ok {
		return w.inner
	}
	return routerLogger{base: log}
}

type routerLogger struct {
	base ServiceLogger
}

func (r routerLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.base.Error(msg, err, LogFields(fields))
}

func (r routerLogger) Info(msg string, fields watermill.LogFields) {
	r.base.Info(msg, LogFields(fields))
}

func (r routerLogger) Debug(msg string, fields watermill.LogFields) {
	r.base.Debug(msg, LogFields(fields))
}

func (r routerLogger) Trace(msg string, fields watermill.LogFields) {
	r.base.Trace(msg, LogFields(fields))
}

func (r routerLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return routerLogger{base: r.base.With(LogFields(fields))}
}
