// Package move relocates received envelopes to other endpoints, such as error
// and dead-letter queues, through a bounded send supervisor.
package move

import (
	"errors"
	"fmt"
	"io"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/pipeline"
	"github.com/drblury/busflow/internal/runtime/receive"
)

// PreSend may adjust the outbound envelope and its headers right before it is
// sent. headers is env.Headers.
type PreSend func(env *envelope.Envelope, headers envelope.Headers)

// Observer is notified after every successful move.
type Observer interface {
	EnvelopeMoved(inputAddress, destination, reason string)
}

// Option customises a Transport.
type Option func(*Transport)

// WithReservedPrefix replaces envelope.DefaultReservedPrefix. An empty prefix
// copies every header.
func WithReservedPrefix(prefix string) Option {
	return func(t *Transport) { t.prefix = prefix }
}

// WithObserver registers o for move notifications.
func WithObserver(o Observer) Option {
	return func(t *Transport) { t.observer = o }
}

// Transport moves envelopes to one destination address.
type Transport struct {
	address    string
	supervisor *Supervisor
	prefix     string
	observer   Observer
}

// NewTransport returns a transport sending to address through supervisor.
func NewTransport(address string, supervisor *Supervisor, opts ...Option) (*Transport, error) {
	if address == "" {
		return nil, errspkg.NewConfigurationError("move transport", errspkg.ErrAddressRequired)
	}
	if supervisor == nil {
		return nil, errspkg.NewConfigurationError("move transport", errspkg.ErrPublisherRequired)
	}
	t := &Transport{
		address:    address,
		supervisor: supervisor,
		prefix:     envelope.DefaultReservedPrefix,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) Address() string { return t.address }

// Move sends a copy of the envelope received in rc to the destination. The
// copy keeps the transport fields and unreserved headers of the original and
// carries fresh host headers. Acknowledging the original stays with the caller.
func (t *Transport) Move(rc *receive.Context, preSend PreSend) error {
	mc, ok := pipeline.GetPayload[receive.MessageContext](rc.Payloads())
	if !ok {
		return errspkg.NewArgumentError("context", "missing required transport context")
	}
	ctx := rc.Context()

	return t.supervisor.Send(ctx, t.address, func(endpoint SendEndpointContext) error {
		stream := rc.GetBodyStream()
		defer stream.Close()

		body, err := io.ReadAll(stream)
		if err != nil {
			return fmt.Errorf("read envelope body: %w", err)
		}

		env := &envelope.Envelope{
			Body:             body,
			ContentType:      rc.Envelope().ContentType,
			Headers:          envelope.Headers{},
			ForcePersistence: mc.ForcePersistence(),
			TimeToLive:       mc.TimeToLive(),
			CorrelationID:    mc.CorrelationID(),
			MessageID:        mc.MessageID(),
			Label:            mc.Label(),
			PartitionKey:     mc.PartitionKey(),
			ReplyTo:          mc.ReplyTo(),
			ReplyToSessionID: mc.ReplyToSessionID(),
			SessionID:        mc.SessionID(),
		}
		env.Headers.CopyUnreserved(mc.Properties(), t.prefix)
		envelope.SetHostHeaders(env.Headers)

		if preSend != nil {
			preSend(env, env.Headers)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := endpoint.Send(ctx, env); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, errspkg.ErrTransport) {
				return err
			}
			return errspkg.NewTransportError(t.address, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		reason := Reason(env.Headers)
		rc.LogMoved(endpoint.Address(), reason)
		if t.observer != nil {
			t.observer.EnvelopeMoved(rc.InputAddress(), endpoint.Address(), reason)
		}
		return nil
	})
}
