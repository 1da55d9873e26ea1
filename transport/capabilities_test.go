package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"nack only", Capabilities{SupportsNack: true}, false},
		{"neither", Capabilities{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_RequiresConsumerExpiry(t *testing.T) {
	assert.True(t, Capabilities{}.RequiresConsumerExpiry())
	assert.False(t, Capabilities{SupportsTimeToLive: true}.RequiresConsumerExpiry())
}

func TestPredefinedCapabilities(t *testing.T) {
	t.Run("channel", func(t *testing.T) {
		assert.Equal(t, "channel", ChannelCapabilities.Name)
		assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
		assert.True(t, ChannelCapabilities.RequiresConsumerExpiry())
	})

	t.Run("kafka", func(t *testing.T) {
		assert.Equal(t, "kafka", KafkaCapabilities.Name)
		assert.True(t, KafkaCapabilities.SupportsPartitioning)
		assert.True(t, KafkaCapabilities.SupportsOrdering)
		assert.False(t, KafkaCapabilities.SupportsNack)
		assert.Greater(t, KafkaCapabilities.MaxMessageSize, int64(0))
	})

	t.Run("rabbitmq", func(t *testing.T) {
		assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
		assert.True(t, RabbitMQCapabilities.SupportsTimeToLive)
		assert.True(t, RabbitMQCapabilities.SupportsPersistence)
		assert.False(t, RabbitMQCapabilities.RequiresConsumerExpiry())
	})

	t.Run("nats", func(t *testing.T) {
		assert.Equal(t, "nats", NATSCapabilities.Name)
		assert.False(t, NATSCapabilities.SupportsPartitioning)
	})

	t.Run("aws", func(t *testing.T) {
		assert.Equal(t, "aws", AWSCapabilities.Name)
		assert.Equal(t, int64(262144), AWSCapabilities.MaxMessageSize)
	})

	t.Run("http", func(t *testing.T) {
		assert.Equal(t, "http", HTTPCapabilities.Name)
		assert.False(t, HTTPCapabilities.SupportsReliableDelivery())
	})
}

func TestGetCapabilities_Unknown(t *testing.T) {
	caps := GetCapabilities("nonexistent")
	assert.Equal(t, "nonexistent", caps.Name)
	assert.False(t, caps.SupportsAck)
}
