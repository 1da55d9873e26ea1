package saga

import (
	"github.com/drblury/busflow/internal/runtime/pipeline"
)

// Factory creates saga instances for messages that start a conversation.
type Factory[S Saga, M any] interface {
	Create(ctx *ConsumeContext[M]) (S, error)
	// Send creates an instance and dispatches it to next.
	Send(ctx *ConsumeContext[M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error
}

// FactoryFunc builds an instance from the consumed message.
type FactoryFunc[S Saga, M any] func(ctx *ConsumeContext[M]) (S, error)

type funcFactory[S Saga, M any] struct {
	create FactoryFunc[S, M]
}

// NewFactory returns a factory that creates the instance before dispatching it.
func NewFactory[S Saga, M any](create FactoryFunc[S, M]) Factory[S, M] {
	return &funcFactory[S, M]{create: create}
}

func (f *funcFactory[S, M]) Create(ctx *ConsumeContext[M]) (S, error) {
	return f.create(ctx)
}

func (f *funcFactory[S, M]) Send(ctx *ConsumeContext[M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
	instance, err := f.create(ctx)
	if err != nil {
		return err
	}
	return next.Send(NewSagaConsumeContext(ctx, instance))
}
