// Package pipeline implements the composable filter chain every consumed
// envelope runs through. A pipe is built once at startup from an ordered list
// of filters and executed once per delivery.
package pipeline

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// Context is the minimum a pipeline context must expose.
type Context interface {
	Context() context.Context
	Payloads() *Payloads
}

// Pipe is a built, executable chain.
type Pipe[T Context] interface {
	Send(ctx T) error
}

// Filter is one stage of a chain. A filter continues the chain by calling
// next.Send and short-circuits it by returning without doing so.
type Filter[T Context] interface {
	Send(ctx T, next Pipe[T]) error
}

// PipeFunc adapts a function to Pipe.
type PipeFunc[T Context] func(ctx T) error

func (f PipeFunc[T]) Send(ctx T) error { return f(ctx) }

// FilterFunc adapts a function to Filter.
type FilterFunc[T Context] func(ctx T, next Pipe[T]) error

func (f FilterFunc[T]) Send(ctx T, next Pipe[T]) error { return f(ctx, next) }

// Empty returns a pipe that accepts every context and does nothing.
func Empty[T Context]() Pipe[T] {
	return PipeFunc[T](func(T) error { return nil })
}

type link[T Context] struct {
	filter Filter[T]
	next   Pipe[T]
}

func (l *link[T]) Send(ctx T) error {
	if err := ctx.Context().Err(); err != nil {
		return err
	}
	return l.filter.Send(ctx, l.next)
}

// Build links filters into a pipe. The last filter receives an empty pipe as
// next. Building has no side effects on the filters.
func Build[T Context](filters ...Filter[T]) (Pipe[T], error) {
	if len(filters) == 0 {
		return nil, errspkg.NewConfigurationError("pipeline", errspkg.ErrEmptyPipeline)
	}
	for i, f := range filters {
		if f == nil {
			return nil, errspkg.NewConfigurationError("pipeline",
				fmt.Errorf("%w: filter %d is nil", errspkg.ErrEmptyPipeline, i))
		}
	}

	var next = Empty[T]()
	for i := len(filters) - 1; i >= 0; i-- {
		next = &link[T]{filter: filters[i], next: next}
	}
	return next, nil
}

// MustBuild is Build for static chains; it panics on a configuration error.
func MustBuild[T Context](filters ...Filter[T]) Pipe[T] {
	p, err := Build(filters...)
	if err != nil {
		panic(err)
	}
	return p
}

// Execute runs ctx through pipe. A context cancelled before a stage aborts the
// chain with the context error.
func Execute[T Context](pipe Pipe[T], ctx T) error {
	if pipe == nil {
		return errspkg.NewConfigurationError("pipeline", errspkg.ErrEmptyPipeline)
	}
	if err := ctx.Context().Err(); err != nil {
		return err
	}
	return pipe.Send(ctx)
}

// BaseContext is an embeddable Context implementation.
type BaseContext struct {
	ctx      context.Context
	payloads *Payloads
}

// NewBaseContext returns a root context with an empty payload set.
func NewBaseContext(ctx context.Context) BaseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return BaseContext{ctx: ctx, payloads: NewPayloads()}
}

// DeriveBaseContext returns a context whose payload set inherits from parent.
func DeriveBaseContext(parent Context) BaseContext {
	return BaseContext{ctx: parent.Context(), payloads: parent.Payloads().Derive()}
}

func (b BaseContext) Context() context.Context { return b.ctx }

func (b BaseContext) Payloads() *Payloads { return b.payloads }
