package runtime

import (
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/busflow/internal/runtime/handlers"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/move"
	"github.com/drblury/busflow/internal/runtime/receive"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = errspkg.IsRetryable
	}
	return cfg
}

// DefaultMiddlewares returns the standard middleware chain used by the Service
// constructor, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		TimeToLiveMiddleware(),
		ErrorTransportMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		CircuitBreakerMiddleware(gobreaker.Settings{}),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Prometheus metrics to the handler.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				"busflow",
				s.Conf.PubSubSystem,
			)

			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/busflow/handlers", s.IntrospectionHandler())
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware keeps the transport correlation id and the
// correlation_id log key in sync, generating a log key when neither is set.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// TimeToLiveMiddleware moves envelopes that outlived their time-to-live to the
// dead-letter queue of their input queue instead of handling them.
func TimeToLiveMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "ttl_expiry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.timeToLiveMiddleware(time.Now), nil
		},
	}
}

// ErrorTransportMiddleware moves envelopes whose handler failed to the error
// queue and then acknowledges them. Errors matching ErrSkip go to the skipped
// queue and ErrDeadLetter to the dead-letter queue instead.
func ErrorTransportMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "error_transport",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.errorTransportMiddleware(), nil
		},
	}
}

// RetryMiddleware retries handler execution using the provided configuration.
// Zero values fall back to the service configuration, then to library defaults.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if cfg.MaxRetries == 0 {
				cfg.MaxRetries = s.Conf.RetryMaxRetries
			}
			if cfg.InitialInterval == 0 {
				cfg.InitialInterval = s.Conf.RetryInitialInterval
			}
			if cfg.MaxInterval == 0 {
				cfg.MaxInterval = s.Conf.RetryMaxInterval
			}
			return retryMiddlewareWithConfig(cfg), nil
		},
	}
}

// CircuitBreakerMiddleware fails fast while handlers keep failing. It is only
// installed when Conf.CircuitBreakerEnabled is set.
func CircuitBreakerMiddleware(settings gobreaker.Settings) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "circuit_breaker",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.CircuitBreakerEnabled {
				return nil, nil
			}
			if settings.Name == "" {
				settings.Name = "busflow"
			}
			if settings.IsSuccessful == nil {
				settings.IsSuccessful = func(err error) bool {
					return err == nil || !errspkg.IsRetryable(err)
				}
			}
			return middleware.NewCircuitBreaker(settings).Middleware, nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so they can be retried or moved to the error queue.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		legacy := middleware.MessageCorrelationID(msg)
		transport := msg.Metadata.Get(envelope.MetadataCorrelationID)
		switch {
		case transport == "" && legacy != "":
			msg.Metadata.Set(envelope.MetadataCorrelationID, legacy)
		case legacy == "" && transport != "":
			middleware.SetCorrelationID(transport, msg)
		case legacy == "":
			// Log key only; the envelope correlation id stays empty.
			middleware.SetCorrelationID(idspkg.CreateCorrelationID(), msg)
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		tracer := otel.Tracer("busflow")
		ctx, span := tracer.Start(msg.Context(), "ProcessMessage", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.handler", message.HandlerNameFromCtx(ctx)),
			attribute.String("message.queue", message.SubscribeTopicFromCtx(ctx)),
			attribute.String("message.correlation_id", msg.Metadata.Get(envelope.MetadataCorrelationID)),
			attribute.String("message.type", msg.Metadata.Get(handlerpkg.MetadataKeyMessageType)),
		)
		if sc := span.SpanContext(); sc.IsValid() {
			msg.Metadata.Set(handlerpkg.MetadataKeyTraceID, sc.TraceID().String())
			msg.Metadata.Set(handlerpkg.MetadataKeySpanID, sc.SpanID().String())
		}

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

func (s *Service) timeToLiveMiddleware(now func() time.Time) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			rc := receive.FromMessage(msg, message.SubscribeTopicFromCtx(msg.Context()), s.Logger)
			if !rc.Envelope().Expired(now()) {
				return h(msg)
			}

			expired := &errspkg.MessageTimeToLiveExpiredError{Address: rc.InputAddress(), MessageID: msg.UUID}
			t, err := s.MoveTransport(s.Conf.DeadLetterQueue(rc.InputAddress()))
			if err != nil {
				return nil, err
			}
			if err := move.NewDeadLetterTransport(t).Send(rc, move.ReasonTTLExpired); err != nil {
				return nil, errors.Join(expired, err)
			}
			s.Logger.Debug("Expired envelope dead-lettered", loggingpkg.LogFields{
				loggingpkg.FieldMessageID:    msg.UUID,
				loggingpkg.FieldInputAddress: rc.InputAddress(),
				"error":                      expired.Error(),
			})
			return nil, nil
		}
	}
}

func (s *Service) errorTransportMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, handlerErr := h(msg)
			if handlerErr == nil {
				return msgs, nil
			}

			rc := receive.FromMessage(msg, message.SubscribeTopicFromCtx(msg.Context()), s.Logger)
			if err := rc.Context().Err(); err != nil {
				return nil, handlerErr
			}

			if moveErr := s.moveFailed(rc, handlerErr); moveErr != nil {
				s.Logger.Error("Failed to move envelope", moveErr, loggingpkg.LogFields{
					loggingpkg.FieldMessageID:    msg.UUID,
					loggingpkg.FieldInputAddress: rc.InputAddress(),
				})
				return nil, errors.Join(handlerErr, moveErr)
			}
			return nil, nil
		}
	}
}

func (s *Service) moveFailed(rc *receive.Context, cause error) error {
	if errors.Is(cause, errspkg.ErrSkip) {
		t, err := s.MoveTransport(s.Conf.SkippedQueue(rc.InputAddress()))
		if err != nil {
			return err
		}
		return move.NewDeadLetterTransport(t).Send(rc, move.ReasonSkipped)
	}
	if errors.Is(cause, errspkg.ErrDeadLetter) {
		t, err := s.MoveTransport(s.Conf.DeadLetterQueue(rc.InputAddress()))
		if err != nil {
			return err
		}
		return move.NewDeadLetterTransport(t).Send(rc, move.ReasonDeadLetter)
	}

	t, err := s.MoveTransport(s.Conf.ErrorQueue(rc.InputAddress()))
	if err != nil {
		return err
	}
	return move.NewErrorTransport(t).Send(rc, cause)
}

func retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	retry := middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return normalized.RetryIf(params.Err)
		},
	}
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			return retry.Middleware(countRedeliveries(msg, h))(msg)
		}
	}
}

// countRedeliveries stamps envelope.HeaderRedeliveryCount on every attempt
// after the first, continuing from the count the message arrived with.
func countRedeliveries(msg *message.Message, h message.HandlerFunc) message.HandlerFunc {
	base, _ := strconv.Atoi(msg.Metadata.Get(envelope.HeaderRedeliveryCount))
	attempt := 0
	return func(m *message.Message) ([]*message.Message, error) {
		if attempt > 0 {
			m.Metadata.Set(envelope.HeaderRedeliveryCount, strconv.Itoa(base+attempt))
		}
		attempt++
		return h(m)
	}
}
