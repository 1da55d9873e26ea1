package saga

import (
	"fmt"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/pipeline"
)

// Policy decides what happens to a message for one saga type.
type Policy[S Saga, M any] interface {
	// PreInsertInstance is called before the repository lookup. Returning true
	// asks the dispatcher to insert the instance eagerly.
	PreInsertInstance(ctx *ConsumeContext[M]) (S, bool, error)
	// Existing is called when the repository holds a matching instance.
	Existing(ctx *SagaConsumeContext[S, M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error
	// Missing is called when no instance was found and none was pre-inserted.
	Missing(ctx *ConsumeContext[M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error
}

// PolicyKind identifies the built-in policy variants.
type PolicyKind int

const (
	// PolicyNew only accepts messages that start a conversation.
	PolicyNew PolicyKind = iota
	// PolicyNewOrExisting joins an existing instance or creates one.
	PolicyNewOrExisting
	// PolicyAnyExisting only accepts messages for an existing instance.
	PolicyAnyExisting
	// PolicyCustom is assembled from caller supplied hooks.
	PolicyCustom
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyNew:
		return "new"
	case PolicyNewOrExisting:
		return "new-or-existing"
	case PolicyAnyExisting:
		return "any-existing"
	case PolicyCustom:
		return "custom"
	default:
		return fmt.Sprintf("PolicyKind(%d)", int(k))
	}
}

// PolicyHooks are the three policy operations as functions. A nil
// PreInsertInstance never pre-inserts.
type PolicyHooks[S Saga, M any] struct {
	PreInsertInstance func(ctx *ConsumeContext[M]) (S, bool, error)
	Existing          func(ctx *SagaConsumeContext[S, M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error
	Missing           func(ctx *ConsumeContext[M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error
}

// TaggedPolicy is the Policy implementation behind every constructor in this
// package.
type TaggedPolicy[S Saga, M any] struct {
	kind  PolicyKind
	hooks PolicyHooks[S, M]
}

// NewSagaPolicy accepts a message only when no instance exists yet. With
// insertOnInitial the instance is created up front and inserted before lookup.
func NewSagaPolicy[S Saga, M any](factory Factory[S, M], insertOnInitial bool) *TaggedPolicy[S, M] {
	return &TaggedPolicy[S, M]{
		kind: PolicyNew,
		hooks: PolicyHooks[S, M]{
			PreInsertInstance: preInsertWith(factory, insertOnInitial),
			Existing: func(ctx *SagaConsumeContext[S, M], _ pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
				return errspkg.NewSagaError(
					"the message cannot be accepted by an existing saga",
					typeName[S](), typeName[M](), ctx.Consume.CorrelationIDOrNil())
			},
			Missing: factory.Send,
		},
	}
}

// NewOrExistingSagaPolicy joins a matching instance or creates a new one.
func NewOrExistingSagaPolicy[S Saga, M any](factory Factory[S, M], insertOnInitial bool) *TaggedPolicy[S, M] {
	return &TaggedPolicy[S, M]{
		kind: PolicyNewOrExisting,
		hooks: PolicyHooks[S, M]{
			PreInsertInstance: preInsertWith(factory, insertOnInitial),
			Existing: func(ctx *SagaConsumeContext[S, M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
				return next.Send(ctx)
			},
			Missing: factory.Send,
		},
	}
}

// AnyExistingSagaPolicy only accepts messages for an existing instance. Missing
// instances are handed to missingPipe, or rejected when it is nil.
func AnyExistingSagaPolicy[S Saga, M any](missingPipe pipeline.Pipe[*ConsumeContext[M]]) *TaggedPolicy[S, M] {
	return &TaggedPolicy[S, M]{
		kind: PolicyAnyExisting,
		hooks: PolicyHooks[S, M]{
			Existing: func(ctx *SagaConsumeContext[S, M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
				return next.Send(ctx)
			},
			Missing: func(ctx *ConsumeContext[M], _ pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
				if missingPipe != nil {
					return missingPipe.Send(ctx)
				}
				return errspkg.NewSagaError("saga instance not found",
					typeName[S](), typeName[M](), ctx.CorrelationIDOrNil())
			},
		},
	}
}

// NewPolicy assembles a custom variant from hooks.
func NewPolicy[S Saga, M any](hooks PolicyHooks[S, M]) (*TaggedPolicy[S, M], error) {
	if hooks.Existing == nil || hooks.Missing == nil {
		return nil, errspkg.NewConfigurationError("saga policy",
			fmt.Errorf("%w: existing and missing hooks must be set", errspkg.ErrPolicyRequired))
	}
	return &TaggedPolicy[S, M]{kind: PolicyCustom, hooks: hooks}, nil
}

func (p *TaggedPolicy[S, M]) Kind() PolicyKind { return p.kind }

func (p *TaggedPolicy[S, M]) PreInsertInstance(ctx *ConsumeContext[M]) (S, bool, error) {
	if p.hooks.PreInsertInstance == nil {
		var zero S
		return zero, false, nil
	}
	return p.hooks.PreInsertInstance(ctx)
}

func (p *TaggedPolicy[S, M]) Existing(ctx *SagaConsumeContext[S, M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
	return p.hooks.Existing(ctx, next)
}

func (p *TaggedPolicy[S, M]) Missing(ctx *ConsumeContext[M], next pipeline.Pipe[*SagaConsumeContext[S, M]]) error {
	return p.hooks.Missing(ctx, next)
}

func preInsertWith[S Saga, M any](factory Factory[S, M], insertOnInitial bool) func(*ConsumeContext[M]) (S, bool, error) {
	return func(ctx *ConsumeContext[M]) (S, bool, error) {
		var zero S
		if !insertOnInitial {
			return zero, false, nil
		}
		instance, err := factory.Create(ctx)
		if err != nil {
			return zero, false, err
		}
		return instance, true, nil
	}
}
