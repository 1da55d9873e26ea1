package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/pipeline"
)

// CorrelateFunc extracts the correlation id from a consumed message.
type CorrelateFunc[M any] func(ctx *ConsumeContext[M]) (uuid.UUID, bool)

// DispatcherOption customises a Dispatcher.
type DispatcherOption[S Saga, M any] func(*Dispatcher[S, M])

// WithCorrelation overrides the correlation id parsed from the envelope.
func WithCorrelation[S Saga, M any](fn CorrelateFunc[M]) DispatcherOption[S, M] {
	return func(d *Dispatcher[S, M]) { d.correlate = fn }
}

// Dispatcher correlates each consumed message with a saga instance according
// to its policy and persists the result. It holds no locks; the repository is
// responsible for isolation between concurrent deliveries.
type Dispatcher[S Saga, M any] struct {
	policy    Policy[S, M]
	repo      Repository[S]
	next      pipeline.Pipe[*SagaConsumeContext[S, M]]
	correlate CorrelateFunc[M]

	sagaType    string
	messageType string
}

// NewDispatcher wires policy and repo in front of next, the saga pipeline.
func NewDispatcher[S Saga, M any](policy Policy[S, M], repo Repository[S], next pipeline.Pipe[*SagaConsumeContext[S, M]], opts ...DispatcherOption[S, M]) (*Dispatcher[S, M], error) {
	if policy == nil {
		return nil, errspkg.NewConfigurationError("saga dispatcher", errspkg.ErrPolicyRequired)
	}
	if repo == nil {
		return nil, errspkg.NewConfigurationError("saga dispatcher", errspkg.ErrRepositoryRequired)
	}
	if next == nil {
		return nil, errspkg.NewConfigurationError("saga dispatcher", errspkg.ErrHandlerRequired)
	}
	d := &Dispatcher[S, M]{
		policy:      policy,
		repo:        repo,
		next:        next,
		sagaType:    typeName[S](),
		messageType: typeName[M](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Send dispatches one consumed message.
func (d *Dispatcher[S, M]) Send(ctx *ConsumeContext[M]) error {
	if err := ctx.Context().Err(); err != nil {
		return err
	}
	if d.correlate != nil {
		if id, ok := d.correlate(ctx); ok {
			ctx.SetCorrelationID(id)
		}
	}
	if ctx.CorrelationID == nil || *ctx.CorrelationID == uuid.Nil {
		return errspkg.NewSagaError("the message has no correlation identifier",
			d.sagaType, d.messageType, uuid.Nil)
	}
	id := *ctx.CorrelationID

	if !ctx.PreInsertConflict() {
		instance, insert, err := d.policy.PreInsertInstance(ctx)
		if err != nil {
			return err
		}
		if insert {
			if err := d.repo.Insert(ctx.Context(), instance); err != nil {
				return d.insertFailed(ctx, id, err)
			}
			err := d.persisting(ctx, true).Send(NewSagaConsumeContext(ctx, instance))
			if err != nil {
				return d.rollbackInsert(ctx, instance, err)
			}
			return nil
		}
	}

	instance, found, err := d.repo.Load(ctx.Context(), id)
	if err != nil {
		return fmt.Errorf("load saga %s %s: %w", d.sagaType, id, err)
	}
	if found {
		return d.policy.Existing(NewSagaConsumeContext(ctx, instance), d.persisting(ctx, true))
	}
	return d.policy.Missing(ctx, d.persisting(ctx, false))
}

// Filter exposes the dispatcher as a consume pipeline stage. next runs after a
// successful dispatch.
func (d *Dispatcher[S, M]) Filter() pipeline.Filter[*ConsumeContext[M]] {
	return pipeline.FilterFunc[*ConsumeContext[M]](func(ctx *ConsumeContext[M], next pipeline.Pipe[*ConsumeContext[M]]) error {
		if err := d.Send(ctx); err != nil {
			return err
		}
		return next.Send(ctx)
	})
}

// persisting wraps the saga pipeline so the instance is written back once the
// pipeline succeeds. stored reports whether the repository already has it.
func (d *Dispatcher[S, M]) persisting(cc *ConsumeContext[M], stored bool) pipeline.Pipe[*SagaConsumeContext[S, M]] {
	return pipeline.PipeFunc[*SagaConsumeContext[S, M]](func(sc *SagaConsumeContext[S, M]) error {
		if err := d.next.Send(sc); err != nil {
			return err
		}
		ctx := sc.Context()
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case stored && sc.IsCompleted():
			return d.repo.Delete(ctx, sc.Saga)
		case stored:
			return d.repo.Update(ctx, sc.Saga)
		case sc.IsCompleted():
			return nil
		default:
			if err := d.repo.Insert(ctx, sc.Saga); err != nil {
				return d.insertFailed(cc, sc.CorrelationID(), err)
			}
			return nil
		}
	})
}

// rollbackInsert removes an eagerly inserted instance after the saga pipeline
// failed, so a redelivery starts from the pre-insert path again.
func (d *Dispatcher[S, M]) rollbackInsert(ctx *ConsumeContext[M], instance S, cause error) error {
	if err := d.repo.Delete(context.WithoutCancel(ctx.Context()), instance); err != nil {
		return errors.Join(cause, fmt.Errorf("roll back saga %s %s: %w", d.sagaType, instance.CorrelationID(), err))
	}
	return cause
}

func (d *Dispatcher[S, M]) insertFailed(ctx *ConsumeContext[M], id uuid.UUID, err error) error {
	if !errors.Is(err, errspkg.ErrDuplicateSaga) {
		return fmt.Errorf("insert saga %s %s: %w", d.sagaType, id, err)
	}
	ctx.MarkPreInsertConflict()
	return &errspkg.DuplicateSagaError{SagaType: d.sagaType, CorrelationID: id, Cause: err}
}
