// Package rabbitmq provides the RabbitMQ (AMQP 0-9-1) transport.
package rabbitmq

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/busflow/internal/runtime/envelope"
	"github.com/drblury/busflow/transport"
)

const TransportName = "rabbitmq"

// ConnectionFactory can be replaced in tests.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory can be replaced in tests.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory can be replaced in tests.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build opens one connection shared by a durable publisher and subscriber.
// Each queue is bound to a fanout exchange of the same name.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()

	amqpConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)
	amqpConfig.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: ApplyEnvelopeProperties}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// ApplyEnvelopeProperties maps envelope transport metadata onto the native
// AMQP properties so the broker enforces the time-to-live.
func ApplyEnvelopeProperties(p amqp091.Publishing) amqp091.Publishing {
	get := func(key string) string {
		v, _ := p.Headers[key].(string)
		return v
	}

	if v := get(envelope.MetadataContentType); v != "" {
		p.ContentType = v
	}
	if v := get(envelope.MetadataCorrelationID); v != "" {
		p.CorrelationId = v
	}
	if v := get(envelope.MetadataReplyTo); v != "" {
		p.ReplyTo = v
	}
	if v := get(envelope.MetadataLabel); v != "" {
		p.Type = v
	}
	if ttl, err := time.ParseDuration(get(envelope.MetadataTimeToLive)); err == nil && ttl > 0 {
		ms := ttl.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		p.Expiration = strconv.FormatInt(ms, 10)
	}
	if get(envelope.MetadataForcePersistence) == "true" {
		p.DeliveryMode = amqp091.Persistent
	}
	return p
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
