// Package busflow is a broker agnostic message bus runtime on top of Watermill.
// It reads the target transport (Kafka, RabbitMQ, AWS SNS/SQS, NATS, HTTP, or
// Go Channels) from Config, bootstraps the Watermill router, and runs every
// delivery through a typed filter pipeline.
//
// Service hosts the router. RegisterConsumer attaches a typed consumer to a
// queue and RegisterSagaHandler attaches a saga whose instances are created,
// loaded and saved by a saga policy and a repository (in memory or Redis).
// Service.PublishJSON and Service.PublishProto send envelopes through a bounded
// send supervisor that caps the endpoint contexts open per destination.
//
// # Moves
//
// A delivery that faults after its retries is moved to the "<queue>_error"
// queue with MT-Fault-* headers describing the failure. Handlers return ErrSkip
// to move a delivery to "<queue>_skipped" and ErrDeadLetter to move it to
// "<queue>_dead_letter". Envelopes whose time-to-live has passed are dead
// lettered without running the handler. Moves copy the envelope body and every
// header except the reserved MT- prefix, then stamp the reason and host headers.
//
// # Transports
//
//   - channel: in-process Go channels for tests and single process setups
//   - kafka: consumer groups with envelope partition keys
//   - rabbitmq: durable AMQP queues with native expiration and persistence
//   - aws: SNS/SQS with LocalStack support
//   - nats: JetStream with durable consumers
//   - http: webhook style delivery
//
// # Middleware
//
// The default middleware chain carries correlation ids, structured logging,
// OpenTelemetry tracing, Prometheus metrics, time-to-live expiry, the error
// transport, retry with exponential backoff, an optional circuit breaker, and
// panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares, and DeliveryHooksMiddleware reports every
// delivery to caller supplied callbacks.
package busflow
