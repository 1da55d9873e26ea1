package logging

import (
	"github.com/rs/zerolog"
)

// NewZerologServiceLogger wraps a zerolog.Logger so it satisfies ServiceLogger.
// Trace entries are written at zerolog's trace level.
func NewZerologServiceLogger(log zerolog.Logger) ServiceLogger {
	return &zerologServiceLogger{inner: log}
}

type zerologServiceLogger struct {
	inner zerolog.Logger
}

func (z *zerologServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zerologServiceLogger{inner: z.inner.With().Fields(map[string]any(fields)).Logger()}
}

func (z *zerologServiceLogger) Debug(msg string, fields LogFields) {
	withZerologFields(z.inner.Debug(), fields).Msg(msg)
}

func (z *zerologServiceLogger) Info(msg string, fields LogFields) {
	withZerologFields(z.inner.Info(), fields).Msg(msg)
}

func (z *zerologServiceLogger) Error(msg string, err error, fields LogFields) {
	withZerologFields(z.inner.Error().Err(err), fields).Msg(msg)
}

func (z *zerologServiceLogger) Trace(msg string, fields LogFields) {
	withZerologFields(z.inner.Trace(), fields).Msg(msg)
}

func withZerologFields(event *zerolog.Event, fields LogFields) *zerolog.Event {
	if len(fields) == 0 {
		return event
	}
	return event.Fields(map[string]any(fields))
}
