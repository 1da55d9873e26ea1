// Package receive holds the per-delivery context a consumed envelope travels
// with through the pipeline.
package receive

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/pipeline"
)

// Context is the receive-side pipeline context. The envelope must not be
// modified once the context is built.
type Context struct {
	pipeline.BaseContext

	envelope     *envelope.Envelope
	inputAddress string
	logger       loggingpkg.ServiceLogger

	openStreams atomic.Int32
}

// NewContext wraps env for a single delivery received on inputAddress. A nil
// logger discards output.
func NewContext(ctx context.Context, env *envelope.Envelope, inputAddress string, logger loggingpkg.ServiceLogger) *Context {
	rc := &Context{
		BaseContext:  pipeline.NewBaseContext(ctx),
		envelope:     env,
		inputAddress: inputAddress,
		logger:       loggingpkg.OrDiscard(logger),
	}
	pipeline.AddPayload(rc.Payloads(), rc)
	return rc
}

// FromMessage builds a receive context for a watermill delivery and attaches
// the native message and its transport metadata as payloads.
func FromMessage(msg *message.Message, inputAddress string, logger loggingpkg.ServiceLogger) *Context {
	env := envelope.FromWatermill(msg)
	rc := NewContext(msg.Context(), env, inputAddress, logger)
	pipeline.AddPayload(rc.Payloads(), msg)
	pipeline.AddPayload[MessageContext](rc.Payloads(), NewEnvelopeMessageContext(env))
	return rc
}

func (c *Context) Envelope() *envelope.Envelope { return c.envelope }

func (c *Context) InputAddress() string { return c.inputAddress }

func (c *Context) Logger() loggingpkg.ServiceLogger { return c.logger }

// GetBodyStream returns a fresh reader over the envelope body. Every stream must
// be closed by the caller.
func (c *Context) GetBodyStream() io.ReadCloser {
	c.openStreams.Add(1)
	return &trackedStream{ReadCloser: c.envelope.BodyReader(), owner: c}
}

// OpenStreams reports how many body streams are still open.
func (c *Context) OpenStreams() int {
	return int(c.openStreams.Load())
}

// LogMoved records that the envelope was relocated to destination.
func (c *Context) LogMoved(destination, reason string) {
	fields := loggingpkg.LogFields{
		loggingpkg.FieldInputAddress: c.inputAddress,
		loggingpkg.FieldDestination:  destination,
		loggingpkg.FieldMessageID:    c.envelope.MessageID,
	}
	c.logger.Info("Envelope moved", fields.Add(loggingpkg.FieldReason, reason))
}

// LogSkipped records that no consumer accepted the envelope.
func (c *Context) LogSkipped(destination string) {
	c.logger.Debug("Envelope skipped", loggingpkg.LogFields{
		loggingpkg.FieldInputAddress: c.inputAddress,
		loggingpkg.FieldDestination:  destination,
		loggingpkg.FieldMessageID:    c.envelope.MessageID,
	})
}

type trackedStream struct {
	io.ReadCloser
	owner *Context
	once  sync.Once
}

func (s *trackedStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ReadCloser.Close()
		s.owner.openStreams.Add(-1)
	})
	return err
}
