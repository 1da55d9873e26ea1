package transport

// Capabilities describes which envelope transport fields a broker carries
// natively. Fields a broker lacks still travel as message metadata; busflow
// enforces them on the consuming side.
type Capabilities struct {
	Name string

	// SupportsTimeToLive means the broker itself discards expired envelopes.
	SupportsTimeToLive bool

	// SupportsPersistence means ForcePersistence maps onto a durable delivery mode.
	SupportsPersistence bool

	// SupportsPartitioning means PartitionKey selects a partition or shard.
	SupportsPartitioning bool

	// SupportsOrdering means deliveries within a partition arrive in order.
	SupportsOrdering bool

	SupportsAck  bool
	SupportsNack bool

	// MaxMessageSize is in bytes; zero means unknown.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresConsumerExpiry reports whether expired envelopes reach consumers and
// must be dead-lettered there.
func (c Capabilities) RequiresConsumerExpiry() bool {
	return !c.SupportsTimeToLive
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsPersistence:  true,
		SupportsPartitioning: true,
		SupportsOrdering:     true,
		SupportsAck:          true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsTimeToLive:  true,
		SupportsPersistence: true,
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsNack:        true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		SupportsAck:    true,
		SupportsNack:   true,
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                "aws",
		SupportsPersistence: true,
		SupportsAck:         true,
		SupportsNack:        true,
		MaxMessageSize:      262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered for transportName.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
