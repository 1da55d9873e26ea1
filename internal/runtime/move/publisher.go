package move

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// PublisherConnector opens endpoint contexts backed by a watermill publisher.
// The address is used as the topic.
type PublisherConnector struct {
	publisher message.Publisher
}

func NewPublisherConnector(publisher message.Publisher) (*PublisherConnector, error) {
	if publisher == nil {
		return nil, errspkg.NewConfigurationError("publisher connector", errspkg.ErrPublisherRequired)
	}
	return &PublisherConnector{publisher: publisher}, nil
}

func (c *PublisherConnector) Connect(ctx context.Context, address string) (SendEndpointContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &publisherEndpoint{publisher: c.publisher, address: address}, nil
}

type publisherEndpoint struct {
	publisher message.Publisher
	address   string
}

func (e *publisherEndpoint) Address() string { return e.address }

func (e *publisherEndpoint) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := envelope.ToWatermill(env)
	msg.SetContext(ctx)
	if err := e.publisher.Publish(e.address, msg); err != nil {
		return err
	}
	return ctx.Err()
}
