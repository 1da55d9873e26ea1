// Package nats provides the NATS JetStream transport.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/busflow/transport"
)

const TransportName = "nats"

// QueueGroup makes instances consuming the same queue address compete for
// deliveries instead of each receiving a copy.
const QueueGroup = "busflow"

// PublisherFactory can be replaced in tests.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory can be replaced in tests.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions are shared by the publisher and subscriber connections.
func ConnectOptions() []nc.Option {
	return []nc.Option{
		nc.Name("busflow"),
		nc.RetryOnFailedConnect(true),
		nc.Timeout(30 * time.Second),
		nc.ReconnectWait(time.Second),
	}
}

// JetStreamConfig provisions streams on demand and acks explicitly so a
// nacked delivery is redelivered.
func JetStreamConfig() nats.JetStreamConfig {
	return nats.JetStreamConfig{
		AutoProvision:    true,
		SubscribeOptions: []nc.SubOpt{nc.DeliverAll(), nc.AckExplicit()},
		TrackMsgId:       true,
		DurablePrefix:    QueueGroup,
	}
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	jsConfig := JetStreamConfig()

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		NatsOptions: ConnectOptions(),
		Marshaler:   marshaler,
		JetStream:   jsConfig,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: QueueGroup,
		CloseTimeout:     30 * time.Second,
		AckWaitTimeout:   30 * time.Second,
		NatsOptions:      ConnectOptions(),
		Unmarshaler:      marshaler,
		JetStream:        jsConfig,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
