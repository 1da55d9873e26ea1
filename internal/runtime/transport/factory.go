// Package transport adapts the broker registry to the service configuration.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/config"
	registry "github.com/drblury/busflow/transport"

	_ "github.com/drblury/busflow/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Capabilities are the broker capabilities registered for PubSubSystem.
	Capabilities registry.Capabilities
}

// Factory abstracts how the service obtains its broker connection.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory builds transports from the broker registry.
func DefaultFactory() Factory {
	return RegistryFactory(registry.DefaultRegistry)
}

// RegistryFactory builds transports from reg.
func RegistryFactory(reg *registry.Registry) Factory {
	return FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		if conf == nil {
			return Transport{}, fmt.Errorf("config is required")
		}
		t, err := reg.Build(ctx, conf, logger)
		if err != nil {
			return Transport{}, err
		}
		return Transport{
			Publisher:    t.Publisher,
			Subscriber:   t.Subscriber,
			Capabilities: reg.GetCapabilities(conf.PubSubSystem),
		}, nil
	})
}
