package busflow

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/busflow/internal/runtime"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/busflow/internal/runtime/handlers"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/move"
	"github.com/drblury/busflow/internal/runtime/pipeline"
	"github.com/drblury/busflow/internal/runtime/saga"
	transportpkg "github.com/drblury/busflow/internal/runtime/transport"
	transportreg "github.com/drblury/busflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Envelope = envelope.Envelope
	Headers  = envelope.Headers
	HostInfo = envelope.HostInfo

	ConsumerRegistration[M any]            = runtimepkg.ConsumerRegistration[M]
	SagaRegistration[S saga.Saga, M any]   = runtimepkg.SagaRegistration[S, M]
	Decoder[M any]                         = handlerpkg.Decoder[M]
	DecoderFunc[M any]                     = handlerpkg.DecoderFunc[M]
	ConsumeContext[M any]                  = saga.ConsumeContext[M]
	SagaConsumeContext[S saga.Saga, M any] = saga.SagaConsumeContext[S, M]
	Saga                                   = saga.Saga
	VersionedSaga                          = saga.Versioned
	SagaPolicy[S saga.Saga, M any]         = saga.Policy[S, M]
	SagaPolicyHooks[S saga.Saga, M any]    = saga.PolicyHooks[S, M]
	TaggedSagaPolicy[S saga.Saga, M any]   = saga.TaggedPolicy[S, M]
	SagaPolicyKind                         = saga.PolicyKind
	SagaFactory[S saga.Saga, M any]        = saga.Factory[S, M]
	SagaFactoryFunc[S saga.Saga, M any]    = saga.FactoryFunc[S, M]
	SagaRepository[S saga.Saga]            = saga.Repository[S]
	InMemorySagaRepository[S saga.Saga]    = saga.InMemoryRepository[S]
	RedisSagaRepository[S saga.Saga]       = saga.RedisRepository[S]
	RedisOption                            = saga.RedisOption
	CorrelateFunc[M any]                   = saga.CorrelateFunc[M]
	PipelineContext                        = pipeline.Context
	Filter[T pipeline.Context]             = pipeline.Filter[T]
	FilterFunc[T pipeline.Context]         = pipeline.FilterFunc[T]
	Pipe[T pipeline.Context]               = pipeline.Pipe[T]
	PipeFunc[T pipeline.Context]           = pipeline.PipeFunc[T]
	Payloads                               = pipeline.Payloads

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer   = runtimepkg.Producer
	SendOption = runtimepkg.SendOption

	Supervisor          = move.Supervisor
	SupervisorOption    = move.SupervisorOption
	SendEndpointContext = move.SendEndpointContext
	Connector           = move.Connector
	ConnectorFunc       = move.ConnectorFunc
	MoveTransport       = move.Transport

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	HandlerInfo          = runtimepkg.HandlerInfo
	HandlerKind          = runtimepkg.HandlerKind
	HandlerStats         = runtimepkg.HandlerStats
	HandlerStatsSnapshot = runtimepkg.HandlerStatsSnapshot

	// Delivery lifecycle hooks
	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks

	// Move metrics
	MoveMetrics            = runtimepkg.MoveMetrics
	MoveDestinationMetrics = runtimepkg.MoveDestinationMetrics
	MoveMetricsSnapshot    = runtimepkg.MoveMetricsSnapshot

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	ConfigValidationError         = errspkg.ConfigValidationError
	ConfigurationError            = errspkg.ConfigurationError
	ArgumentError                 = errspkg.ArgumentError
	SagaError                     = errspkg.SagaError
	DuplicateSagaError            = errspkg.DuplicateSagaError
	TransportError                = errspkg.TransportError
	MessageTimeToLiveExpiredError = errspkg.MessageTimeToLiveExpiredError
	DecodeError                   = errspkg.DecodeError

	// Broker registry
	TransportBuilder      = transportreg.Builder
	TransportConfig       = transportreg.Config
	TransportRegistry     = transportreg.Registry
	TransportCapabilities = transportreg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware    = runtimepkg.LogMessagesMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	TimeToLiveMiddleware     = runtimepkg.TimeToLiveMiddleware
	ErrorTransportMiddleware = runtimepkg.ErrorTransportMiddleware
	RetryMiddleware          = runtimepkg.RetryMiddleware
	CircuitBreakerMiddleware = runtimepkg.CircuitBreakerMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware

	// Delivery lifecycle hooks
	DeliveryHooksMiddleware = runtimepkg.DeliveryHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	NewMoveMetrics = runtimepkg.NewMoveMetrics

	// Send options
	WithCorrelationID = runtimepkg.WithCorrelationID
	WithMessageID     = runtimepkg.WithMessageID
	WithTimeToLive    = runtimepkg.WithTimeToLive
	WithPartitionKey  = runtimepkg.WithPartitionKey
	WithReplyTo       = runtimepkg.WithReplyTo
	WithLabel         = runtimepkg.WithLabel
	WithPersistence   = runtimepkg.WithPersistence

	NewEnvelope   = envelope.New
	CurrentHost   = envelope.CurrentHost
	EncodeJSON    = handlerpkg.EncodeJSON
	EncodeProto   = handlerpkg.EncodeProto
	ReasonOf      = move.Reason
	NewSupervisor = move.NewSupervisor

	WithSendEndpointLimit   = move.WithSendEndpointLimit
	WithSupervisorMetrics   = move.WithSupervisorMetrics
	NewPublisherConnector   = move.NewPublisherConnector
	WithRedisKeyPrefix      = saga.WithRedisKeyPrefix
	WithRedisTTL            = saga.WithRedisTTL
	DefaultTransportFactory = transportpkg.DefaultFactory

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPolicyRequired       = errspkg.ErrPolicyRequired
	ErrRepositoryRequired   = errspkg.ErrRepositoryRequired
	ErrFactoryRequired      = errspkg.ErrFactoryRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrAddressRequired      = errspkg.ErrAddressRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrEmptyPipeline        = errspkg.ErrEmptyPipeline
	ErrSupervisorClosed     = errspkg.ErrSupervisorClosed
	ErrMessageTypeRequired  = errspkg.ErrMessageTypeRequired

	// Handler outcomes
	ErrSkip       = errspkg.ErrSkip
	ErrRetry      = errspkg.ErrRetry
	ErrDeadLetter = errspkg.ErrDeadLetter

	// Fault categories, match with errors.Is
	ErrConfiguration            = errspkg.ErrConfiguration
	ErrArgument                 = errspkg.ErrArgument
	ErrSagaProtocolViolation    = errspkg.ErrSagaProtocolViolation
	ErrDuplicateSaga            = errspkg.ErrDuplicateSaga
	ErrSagaConcurrency          = errspkg.ErrSagaConcurrency
	ErrTransport                = errspkg.ErrTransport
	ErrMessageTimeToLiveExpired = errspkg.ErrMessageTimeToLiveExpired
	ErrDecode                   = errspkg.ErrDecode
	ErrUnknownTransport         = transportreg.ErrUnknownTransport
	IsRetryable                 = errspkg.IsRetryable

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	DiscardLogger             = loggingpkg.Discard

	CreateULID          = idspkg.CreateULID
	CreateCorrelationID = idspkg.CreateCorrelationID

	// Broker registry
	DefaultTransportRegistry = transportreg.DefaultRegistry
	RegisterTransport        = transportreg.RegisterWithCapabilities
	BuildTransport           = transportreg.Build
	GetCapabilities          = transportreg.GetCapabilities
)

// Saga policy kinds.
const (
	SagaPolicyNew           = saga.PolicyNew
	SagaPolicyNewOrExisting = saga.PolicyNewOrExisting
	SagaPolicyAnyExisting   = saga.PolicyAnyExisting
	SagaPolicyCustom        = saga.PolicyCustom
)

// Move reasons stamped on the MT-Reason header.
const (
	ReasonFault      = move.ReasonFault
	ReasonSkipped    = move.ReasonSkipped
	ReasonTTLExpired = move.ReasonTTLExpired
	ReasonDeadLetter = move.ReasonDeadLetter
)

// Reserved header keys.
const (
	HeaderReason             = envelope.HeaderReason
	HeaderFaultExceptionType = envelope.HeaderFaultExceptionType
	HeaderFaultMessage       = envelope.HeaderFaultMessage
	HeaderFaultTimestamp     = envelope.HeaderFaultTimestamp
	HeaderFaultInputAddress  = envelope.HeaderFaultInputAddress
	HeaderFaultRetryCount    = envelope.HeaderFaultRetryCount
	HeaderRedeliveryCount    = envelope.HeaderRedeliveryCount
	DefaultReservedPrefix    = envelope.DefaultReservedPrefix
	MetadataKeyMessageType   = handlerpkg.MetadataKeyMessageType
)

const (
	HandlerKindConsumer = runtimepkg.HandlerKindConsumer
	HandlerKindSaga     = runtimepkg.HandlerKindSaga
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone        = runtimepkg.ErrorCategoryNone
	ErrorCategoryDecode      = runtimepkg.ErrorCategoryDecode
	ErrorCategorySaga        = runtimepkg.ErrorCategorySaga
	ErrorCategoryConcurrency = runtimepkg.ErrorCategoryConcurrency
	ErrorCategoryTransport   = runtimepkg.ErrorCategoryTransport
	ErrorCategoryCancelled   = runtimepkg.ErrorCategoryCancelled
	ErrorCategorySkipped     = runtimepkg.ErrorCategorySkipped
	ErrorCategoryOther       = runtimepkg.ErrorCategoryOther
)

func RegisterConsumer[M any](svc *Service, cfg ConsumerRegistration[M]) error {
	return runtimepkg.RegisterConsumer(svc, cfg)
}

func RegisterSagaHandler[S Saga, M any](svc *Service, cfg SagaRegistration[S, M]) error {
	return runtimepkg.RegisterSagaHandler(svc, cfg)
}

// NewSagaPolicy accepts only messages that start a conversation.
func NewSagaPolicy[S Saga, M any](factory SagaFactory[S, M], insertOnInitial bool) *TaggedSagaPolicy[S, M] {
	return saga.NewSagaPolicy[S, M](factory, insertOnInitial)
}

// NewOrExistingSagaPolicy joins an existing instance or creates a new one.
func NewOrExistingSagaPolicy[S Saga, M any](factory SagaFactory[S, M], insertOnInitial bool) *TaggedSagaPolicy[S, M] {
	return saga.NewOrExistingSagaPolicy[S, M](factory, insertOnInitial)
}

// AnyExistingSagaPolicy handles messages for existing instances and sends the
// rest to missing.
func AnyExistingSagaPolicy[S Saga, M any](missing Pipe[*ConsumeContext[M]]) *TaggedSagaPolicy[S, M] {
	return saga.AnyExistingSagaPolicy[S, M](missing)
}

func NewSagaPolicyFromHooks[S Saga, M any](hooks SagaPolicyHooks[S, M]) (*TaggedSagaPolicy[S, M], error) {
	return saga.NewPolicy[S, M](hooks)
}

func NewSagaFactory[S Saga, M any](create SagaFactoryFunc[S, M]) SagaFactory[S, M] {
	return saga.NewFactory[S, M](create)
}

func NewInMemorySagaRepository[S Saga]() *InMemorySagaRepository[S] {
	return saga.NewInMemoryRepository[S]()
}

func NewRedisSagaRepository[S Saga](ctx context.Context, client redis.UniversalClient, opts ...RedisOption) (*RedisSagaRepository[S], error) {
	return saga.NewRedisRepository[S](ctx, client, opts...)
}

func BuildPipeline[T PipelineContext](filters ...Filter[T]) (Pipe[T], error) {
	return pipeline.Build[T](filters...)
}

func ExecutePipeline[T PipelineContext](pipe Pipe[T], ctx T) error {
	return pipeline.Execute[T](pipe, ctx)
}

func AddPayload[P any](p *Payloads, value P) { pipeline.AddPayload(p, value) }

func GetPayload[P any](p *Payloads) (P, bool) { return pipeline.GetPayload[P](p) }

func JSONDecoder[M any]() (Decoder[M], error) { return handlerpkg.JSONDecoder[M]() }

func ProtoDecoder[M proto.Message]() (Decoder[M], error) { return handlerpkg.ProtoDecoder[M]() }

func MessageTypeName[M any]() string { return handlerpkg.MessageTypeName[M]() }

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

func NewZerologServiceLogger(log zerolog.Logger) ServiceLogger {
	return loggingpkg.NewZerologServiceLogger(log)
}
