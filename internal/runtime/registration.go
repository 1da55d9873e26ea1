package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/busflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/pipeline"
	"github.com/drblury/busflow/internal/runtime/receive"
	"github.com/drblury/busflow/internal/runtime/saga"
)

// ConsumerRegistration wires a typed consumer onto a queue.
type ConsumerRegistration[M any] struct {
	Name  string
	Queue string
	// Decoder defaults to handlers.JSONDecoder.
	Decoder handlerpkg.Decoder[M]
	// Filters run in order before Handler.
	Filters    []pipeline.Filter[*saga.ConsumeContext[M]]
	Handler    func(ctx *saga.ConsumeContext[M]) error
	Subscriber message.Subscriber
}

// SagaRegistration wires a saga of type S consuming messages of type M.
type SagaRegistration[S saga.Saga, M any] struct {
	Name   string
	Queue  string
	Policy saga.Policy[S, M]
	// Repository defaults to the backend selected by Conf.SagaRepository.
	Repository saga.Repository[S]
	// Correlate overrides the correlation id carried by the envelope.
	Correlate saga.CorrelateFunc[M]
	Decoder   handlerpkg.Decoder[M]
	// Filters run before the saga is resolved, SagaFilters after.
	Filters     []pipeline.Filter[*saga.ConsumeContext[M]]
	SagaFilters []pipeline.Filter[*saga.SagaConsumeContext[S, M]]
	Handler     func(ctx *saga.SagaConsumeContext[S, M]) error
	Subscriber  message.Subscriber
}

// RegisterConsumer attaches a consumer for M to the service router.
func RegisterConsumer[M any](svc *Service, cfg ConsumerRegistration[M]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Queue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	decoder, err := decoderOrJSON(cfg.Decoder)
	if err != nil {
		return err
	}

	filters := append(append([]pipeline.Filter[*saga.ConsumeContext[M]]{}, cfg.Filters...), terminal(cfg.Handler))
	pipe, err := pipeline.Build(filters...)
	if err != nil {
		return err
	}

	messageType := handlerpkg.MessageTypeName[M]()
	name := cfg.Name
	if name == "" {
		name = messageType + "-Consumer"
	}
	return svc.addHandler(&HandlerInfo{
		Name:        name,
		Kind:        HandlerKindConsumer,
		Queue:       cfg.Queue,
		MessageType: messageType,
	}, cfg.Subscriber, consumeHandler(svc, cfg.Queue, decoder, pipe))
}

// RegisterSagaHandler attaches a saga dispatcher for S and M to the service
// router.
func RegisterSagaHandler[S saga.Saga, M any](svc *Service, cfg SagaRegistration[S, M]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.Policy == nil {
		return errspkg.ErrPolicyRequired
	}
	if cfg.Queue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	sagaFilters := append([]pipeline.Filter[*saga.SagaConsumeContext[S, M]]{}, cfg.SagaFilters...)
	if cfg.Handler != nil {
		sagaFilters = append(sagaFilters, terminal(cfg.Handler))
	}
	if len(sagaFilters) == 0 {
		return errspkg.ErrHandlerRequired
	}
	decoder, err := decoderOrJSON(cfg.Decoder)
	if err != nil {
		return err
	}

	sagaType := handlerpkg.MessageTypeName[S]()
	repo := cfg.Repository
	if repo == nil {
		repo, err = defaultRepository[S](svc, sagaType)
		if err != nil {
			return err
		}
	}

	sagaPipe, err := pipeline.Build(sagaFilters...)
	if err != nil {
		return err
	}
	var opts []saga.DispatcherOption[S, M]
	if cfg.Correlate != nil {
		opts = append(opts, saga.WithCorrelation[S, M](cfg.Correlate))
	}
	dispatcher, err := saga.NewDispatcher[S, M](cfg.Policy, repo, sagaPipe, opts...)
	if err != nil {
		return err
	}

	filters := append(append([]pipeline.Filter[*saga.ConsumeContext[M]]{}, cfg.Filters...), dispatcher.Filter())
	pipe, err := pipeline.Build(filters...)
	if err != nil {
		return err
	}

	messageType := handlerpkg.MessageTypeName[M]()
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s-Saga", sagaType, messageType)
	}
	return svc.addHandler(&HandlerInfo{
		Name:        name,
		Kind:        HandlerKindSaga,
		Queue:       cfg.Queue,
		MessageType: messageType,
		SagaType:    sagaType,
		Policy:      policyName(cfg.Policy),
	}, cfg.Subscriber, consumeHandler(svc, cfg.Queue, decoder, pipe))
}

func (s *Service) addHandler(info *HandlerInfo, subscriber message.Subscriber, handler message.NoPublishHandlerFunc) error {
	if subscriber == nil {
		subscriber = s.subscriber
	}
	info.Stats = newHandlerStats()

	s.handlersMu.Lock()
	for _, existing := range s.handlers {
		if existing.Name == info.Name {
			s.handlersMu.Unlock()
			return fmt.Errorf("handler %q is already registered", info.Name)
		}
	}
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	s.router.AddNoPublisherHandler(
		info.Name,
		info.Queue,
		subscriber,
		wrapHandlerWithStats(handler, info.Stats, s.errorClassifier),
	)

	s.Logger.Debug("Handler registered", loggingpkg.LogFields{
		"handler":      info.Name,
		"kind":         info.Kind,
		"queue":        info.Queue,
		"message_type": info.MessageType,
	})
	return nil
}

// consumeHandler decodes each delivery and runs it through pipe.
func consumeHandler[M any](s *Service, queue string, decoder handlerpkg.Decoder[M], pipe pipeline.Pipe[*saga.ConsumeContext[M]]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		rc := receive.FromMessage(msg, queue, s.Logger)
		decoded, err := decoder.Decode(rc.Envelope())
		if err != nil {
			return err
		}
		return pipeline.Execute(pipe, saga.NewConsumeContext(rc, decoded))
	}
}

func wrapHandlerWithStats(handler message.NoPublishHandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		stats.onMessageStart()
		start := time.Now()
		err := handler(msg)
		stats.onMessageFinish(time.Since(start), err, classifier)
		return err
	}
}

// terminal adapts a handler function to the last filter of a chain.
func terminal[T pipeline.Context](fn func(T) error) pipeline.Filter[T] {
	return pipeline.FilterFunc[T](func(ctx T, next pipeline.Pipe[T]) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return next.Send(ctx)
	})
}

func decoderOrJSON[M any](decoder handlerpkg.Decoder[M]) (handlerpkg.Decoder[M], error) {
	if decoder != nil {
		return decoder, nil
	}
	return handlerpkg.JSONDecoder[M]()
}

func defaultRepository[S saga.Saga](s *Service, sagaType string) (saga.Repository[S], error) {
	if s.Conf.SagaRepository != configpkg.SagaRepositoryRedis {
		return saga.NewInMemoryRepository[S](), nil
	}
	prefix := s.Conf.RedisKeyPrefix
	if prefix == "" {
		prefix = saga.DefaultRedisKeyPrefix
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := saga.NewRedisRepository[S](ctx, s.redisClient,
		saga.WithRedisKeyPrefix(prefix),
		saga.WithRedisTTL(s.Conf.SagaTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("saga %s repository: %w", sagaType, err)
	}
	return repo, nil
}

func policyName(policy any) string {
	if tagged, ok := policy.(interface{ Kind() saga.PolicyKind }); ok {
		return tagged.Kind().String()
	}
	return fmt.Sprintf("%T", policy)
}
