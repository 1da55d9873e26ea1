// Package saga correlates consumed messages with long-running conversation
// state. A Policy decides per message whether an instance is created, joined
// or rejected, and the Dispatcher drives the policy against a Repository.
package saga

import (
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/drblury/busflow/internal/runtime/envelope"
	"github.com/drblury/busflow/internal/runtime/pipeline"
	"github.com/drblury/busflow/internal/runtime/receive"
)

// Saga is a correlation-keyed conversation instance.
type Saga interface {
	CorrelationID() uuid.UUID
}

// Versioned sagas get optimistic concurrency checks from the bundled
// repositories.
type Versioned interface {
	Version() int64
	SetVersion(v int64)
}

// ConsumeContext carries a decoded message through the consume pipeline.
type ConsumeContext[M any] struct {
	pipeline.BaseContext

	Receive *receive.Context
	Message M

	// CorrelationID is nil when the delivery carries no usable identifier.
	CorrelationID *uuid.UUID

	preInsertConflict bool
}

// NewConsumeContext derives a consume context from rc. The correlation id is
// parsed from the envelope and may be overridden with SetCorrelationID.
func NewConsumeContext[M any](rc *receive.Context, msg M) *ConsumeContext[M] {
	cc := &ConsumeContext[M]{
		BaseContext: pipeline.DeriveBaseContext(rc),
		Receive:     rc,
		Message:     msg,
	}
	env := rc.Envelope()
	if id, err := uuid.Parse(env.CorrelationID); err == nil {
		cc.CorrelationID = &id
	}
	if v, ok := env.Headers.GetString(envelope.HeaderSagaPreInsertConflict); ok && v != "" {
		cc.preInsertConflict = true
	}
	pipeline.AddPayload(cc.Payloads(), cc)
	return cc
}

func (c *ConsumeContext[M]) SetCorrelationID(id uuid.UUID) {
	c.CorrelationID = &id
}

// CorrelationIDOrNil returns the correlation id or uuid.Nil.
func (c *ConsumeContext[M]) CorrelationIDOrNil() uuid.UUID {
	if c.CorrelationID == nil {
		return uuid.Nil
	}
	return *c.CorrelationID
}

// PreInsertConflict reports whether an earlier attempt of this delivery hit a
// duplicate on the eager insert path.
func (c *ConsumeContext[M]) PreInsertConflict() bool {
	return c.preInsertConflict
}

// MarkPreInsertConflict flags the delivery so a redelivery of the same native
// message skips the eager insert.
func (c *ConsumeContext[M]) MarkPreInsertConflict() {
	c.preInsertConflict = true
	if msg, ok := pipeline.GetPayload[*message.Message](c.Payloads()); ok {
		msg.Metadata.Set(envelope.HeaderSagaPreInsertConflict, "true")
	}
}

// SagaConsumeContext pairs a consumed message with the saga instance it was
// correlated to.
type SagaConsumeContext[S Saga, M any] struct {
	pipeline.BaseContext

	Consume *ConsumeContext[M]
	Saga    S

	completed bool
}

// NewSagaConsumeContext derives a saga context from ctx wrapping instance.
func NewSagaConsumeContext[S Saga, M any](ctx *ConsumeContext[M], instance S) *SagaConsumeContext[S, M] {
	sc := &SagaConsumeContext[S, M]{
		BaseContext: pipeline.DeriveBaseContext(ctx),
		Consume:     ctx,
		Saga:        instance,
	}
	pipeline.AddPayload(sc.Payloads(), sc)
	return sc
}

func (c *SagaConsumeContext[S, M]) Message() M { return c.Consume.Message }

func (c *SagaConsumeContext[S, M]) CorrelationID() uuid.UUID { return c.Saga.CorrelationID() }

// SetCompleted marks the conversation finished; the instance is removed from
// the repository instead of being saved.
func (c *SagaConsumeContext[S, M]) SetCompleted() { c.completed = true }

func (c *SagaConsumeContext[S, M]) IsCompleted() bool { return c.completed }

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
