// Package transports imports every built-in transport so each registers itself
// with the default registry.
package transports

import (
	_ "github.com/drblury/busflow/transport/aws"
	_ "github.com/drblury/busflow/transport/channel"
	_ "github.com/drblury/busflow/transport/http"
	_ "github.com/drblury/busflow/transport/kafka"
	_ "github.com/drblury/busflow/transport/nats"
	_ "github.com/drblury/busflow/transport/rabbitmq"
)
