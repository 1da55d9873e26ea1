package runtime

import (
	"context"
	"errors"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/busflow/internal/runtime/handlers"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/move"
)

// Producer sends typed messages onto the configured transport.
type Producer interface {
	PublishJSON(ctx context.Context, address string, msg any, headers envelope.Headers, opts ...SendOption) error
	PublishProto(ctx context.Context, address string, msg proto.Message, headers envelope.Headers, opts ...SendOption) error
}

// SendOption sets transport fields on an outbound envelope.
type SendOption func(*envelope.Envelope)

func WithCorrelationID(id string) SendOption {
	return func(env *envelope.Envelope) { env.CorrelationID = id }
}

func WithMessageID(id string) SendOption {
	return func(env *envelope.Envelope) { env.MessageID = id }
}

// WithTimeToLive makes the envelope expire ttl after it is sent.
func WithTimeToLive(ttl time.Duration) SendOption {
	return func(env *envelope.Envelope) { env.TimeToLive = ttl }
}

func WithPartitionKey(key string) SendOption {
	return func(env *envelope.Envelope) { env.PartitionKey = key }
}

func WithReplyTo(address string) SendOption {
	return func(env *envelope.Envelope) { env.ReplyTo = address }
}

func WithLabel(label string) SendOption {
	return func(env *envelope.Envelope) { env.Label = label }
}

// WithPersistence asks brokers that support it to store the envelope durably.
func WithPersistence() SendOption {
	return func(env *envelope.Envelope) { env.ForcePersistence = true }
}

var _ Producer = (*Service)(nil)

// Send delivers a copy of env to address through the send supervisor. The
// copy gets a message id when env has none, a sent time and host headers; env
// itself is left untouched so it can be sent again.
func (s *Service) Send(ctx context.Context, address string, env *envelope.Envelope) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if address == "" {
		return errspkg.ErrTopicRequired
	}
	if env == nil {
		return errspkg.ErrPayloadRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	env = env.Clone()
	if env.SentTime.IsZero() {
		env.SentTime = time.Now().UTC()
	}
	if env.MessageID == "" {
		env.MessageID = idspkg.CreateULIDAt(env.SentTime)
	}
	if env.Headers == nil {
		env.Headers = envelope.Headers{}
	}
	envelope.SetHostHeaders(env.Headers)

	err := s.supervisor.Send(ctx, address, func(endpoint move.SendEndpointContext) error {
		if err := endpoint.Send(ctx, env); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, errspkg.ErrTransport) {
				return err
			}
			return errspkg.NewTransportError(address, err)
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	s.Logger.Debug("Envelope sent", loggingpkg.LogFields{
		loggingpkg.FieldAddress:   address,
		loggingpkg.FieldMessageID: env.MessageID,
	}.Add(loggingpkg.FieldCorrelationID, env.CorrelationID))
	return nil
}

// PublishJSON encodes msg as JSON and sends it to address.
func (s *Service) PublishJSON(ctx context.Context, address string, msg any, headers envelope.Headers, opts ...SendOption) error {
	env, err := handlerpkg.EncodeJSON(msg, headers)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(env)
	}
	return s.Send(ctx, address, env)
}

// PublishProto encodes msg as protojson and sends it to address.
func (s *Service) PublishProto(ctx context.Context, address string, msg proto.Message, headers envelope.Headers, opts ...SendOption) error {
	env, err := handlerpkg.EncodeProto(msg, headers)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(env)
	}
	return s.Send(ctx, address, env)
}
