package logging

import "reflect"

// EntryLoggerAdapter is satisfied by logrus style entries whose WithField and
// WithError return the entry type itself.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger adapts an entry style logger such as *logrus.Entry.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if isNil(entry) {
		panic("busflow: entry logger cannot be nil")
	}
	return entryLogger[T]{entry: entry}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e entryLogger[T]) with(fields LogFields) T {
	out := e.entry
	for k, v := range fields {
		out = out.WithField(k, v)
	}
	return out
}

func (e entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return entryLogger[T]{entry: e.with(fields)}
}

func (e entryLogger[T]) Debug(msg string, fields LogFields) { e.with(fields).Debug(msg) }

func (e entryLogger[T]) Info(msg string, fields LogFields) { e.with(fields).Info(msg) }

func (e entryLogger[T]) Trace(msg string, fields LogFields) { e.with(fields).Trace(msg) }

func (e entryLogger[T]) Error(msg string, err error, fields LogFields) {
	out := e.with(fields)
	if err != nil {
		out = out.WithError(err)
	}
	out.Error(msg)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func:
		return rv.IsNil()
	}
	return false
}
