package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

// DeliveryContext describes one delivery to a handler.
type DeliveryContext struct {
	HandlerName   string
	Queue         string
	MessageUUID   string
	CorrelationID string
	Metadata      message.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is only set for OnDeliveryDone and OnDeliveryError.
	Duration time.Duration
	// RedeliveryCount is read from envelope.HeaderRedeliveryCount.
	RedeliveryCount int
}

// DeliveryHooks are optional callbacks around handler execution.
type DeliveryHooks struct {
	OnDeliveryStart func(ctx DeliveryContext)
	OnDeliveryDone  func(ctx DeliveryContext)
	OnDeliveryError func(ctx DeliveryContext, err error)
}

// Merge returns hooks calling h first, then other.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHooks(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHooks(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHooks(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// DeliveryHooksMiddleware invokes hooks around every handler call. Register it
// after the default chain to observe each retry attempt individually.
func DeliveryHooksMiddleware(hooks DeliveryHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "delivery_hooks",
		Middleware: deliveryHooksMiddleware(hooks),
	}
}

func deliveryHooksMiddleware(hooks DeliveryHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			redeliveries, _ := strconv.Atoi(msg.Metadata.Get(envelope.HeaderRedeliveryCount))
			dc := DeliveryContext{
				HandlerName:     message.HandlerNameFromCtx(ctx),
				Queue:           message.SubscribeTopicFromCtx(ctx),
				MessageUUID:     msg.UUID,
				CorrelationID:   msg.Metadata.Get(envelope.MetadataCorrelationID),
				Metadata:        msg.Metadata,
				Context:         ctx,
				StartedAt:       time.Now(),
				RedeliveryCount: redeliveries,
			}

			if hooks.OnDeliveryStart != nil {
				hooks.OnDeliveryStart(dc)
			}

			msgs, err := h(msg)
			dc.Duration = time.Since(dc.StartedAt)

			if err != nil {
				if hooks.OnDeliveryError != nil {
					hooks.OnDeliveryError(dc, err)
				}
			} else if hooks.OnDeliveryDone != nil {
				hooks.OnDeliveryDone(dc)
			}
			return msgs, err
		}
	}
}

// LoggingHooks logs delivery lifecycle events at debug level and failures at
// error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	fields := func(ctx DeliveryContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			loggingpkg.FieldHandler:   ctx.HandlerName,
			loggingpkg.FieldQueue:     ctx.Queue,
			loggingpkg.FieldMessageID: ctx.MessageUUID,
			"redelivery_count":        ctx.RedeliveryCount,
		}.Add(loggingpkg.FieldCorrelationID, ctx.CorrelationID)
	}
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			logger.Debug("Delivery started", fields(ctx))
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Delivery completed", f)
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Delivery failed", err, f)
		},
	}
}

// AlertingHooks calls alert for every failed delivery.
func AlertingHooks(alert func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{OnDeliveryError: alert}
}
