package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/move"
	transportpkg "github.com/drblury/busflow/internal/runtime/transport"
	transportreg "github.com/drblury/busflow/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults derived from the configuration.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Connector opens the send endpoints used for moves and Send. Defaults to
	// the transport publisher.
	Connector move.Connector
	// RedisClient backs saga repositories when Conf.SagaRepository is "redis".
	// When nil a client is created from the Redis settings and closed by Close.
	RedisClient       redis.UniversalClient
	MetricsRegisterer prometheus.Registerer
	ErrorClassifier   ErrorClassifier
}

// Service wires a Watermill router, the transport, the send supervisor and the
// middleware chain that moves failed envelopes.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	ctx context.Context

	publisher    message.Publisher
	subscriber   message.Subscriber
	capabilities transportreg.Capabilities
	router       *message.Router

	supervisor  *move.Supervisor
	moveMetrics *MoveMetrics
	registerer  prometheus.Registerer

	transportsMu sync.Mutex
	transports   map[string]*move.Transport

	redisClient redis.UniversalClient
	ownsRedis   bool

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	closeOnce       sync.Once
	closeErr        error
}

// NewService constructs a Service for the supplied configuration. Register handlers
// on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	resolved := conf.WithDefaults()

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating bus service",
		loggingpkg.LogFields{
			"pubsub_system": resolved.PubSubSystem,
			"config":        resolved,
		})

	registerer := deps.MetricsRegisterer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	s := &Service{
		Conf:            &resolved,
		Logger:          log,
		ctx:             ctx,
		transports:      make(map[string]*move.Transport),
		errorClassifier: deps.ErrorClassifier,
		moveMetrics:     NewMoveMetrics(registerer),
		registerer:      registerer,
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}
	if resolved.MetricsEnabled {
		if err := s.moveMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register move metrics: %w", err)
		}
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %q transport: %w", resolved.PubSubSystem, err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.capabilities = transport.Capabilities
	log.Debug("Transport ready", loggingpkg.LogFields{
		"transport":              transport.Capabilities.Name,
		"native_time_to_live":    transport.Capabilities.SupportsTimeToLive,
		"reliable_delivery":      transport.Capabilities.SupportsReliableDelivery(),
		"max_message_size_bytes": transport.Capabilities.MaxMessageSize,
	})

	connector := deps.Connector
	if connector == nil {
		pc, err := move.NewPublisherConnector(s.publisher)
		if err != nil {
			return nil, err
		}
		connector = pc
	}
	supervisorOpts := []move.SupervisorOption{move.WithSendEndpointLimit(resolved.SendEndpointLimit)}
	if resolved.MetricsEnabled {
		supervisorOpts = append(supervisorOpts, move.WithSupervisorMetrics(registerer))
	}
	s.supervisor, err = move.NewSupervisor(connector, supervisorOpts...)
	if err != nil {
		return nil, err
	}

	if resolved.SagaRepository == configpkg.SagaRepositoryRedis {
		s.redisClient = deps.RedisClient
		if s.redisClient == nil {
			s.redisClient = redis.NewClient(&redis.Options{
				Addr:     resolved.RedisAddr,
				Password: resolved.RedisPassword,
				DB:       resolved.RedisDB,
			})
			s.ownsRedis = true
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return s, nil
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running is closed once the router has started all handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the supervisor, the transport and an
// owned Redis client. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.router != nil {
			errs = append(errs, s.router.Close())
		}
		if s.supervisor != nil {
			errs = append(errs, s.supervisor.Close())
		}
		if s.publisher != nil {
			errs = append(errs, s.publisher.Close())
		}
		if s.subscriber != nil {
			errs = append(errs, s.subscriber.Close())
		}
		if s.ownsRedis && s.redisClient != nil {
			errs = append(errs, s.redisClient.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Supervisor returns the bounded send supervisor shared by moves and Send.
func (s *Service) Supervisor() *move.Supervisor { return s.supervisor }

// MoveMetrics returns the counters of envelopes moved by this service.
func (s *Service) MoveMetrics() *MoveMetrics { return s.moveMetrics }

// Capabilities returns what the configured broker carries natively.
func (s *Service) Capabilities() transportreg.Capabilities { return s.capabilities }

// Publisher returns the transport publisher.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Subscriber returns the transport subscriber.
func (s *Service) Subscriber() message.Subscriber { return s.subscriber }

// MoveTransport returns the move transport for address, creating it on first use.
func (s *Service) MoveTransport(address string) (*move.Transport, error) {
	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()

	if t, ok := s.transports[address]; ok {
		return t, nil
	}
	t, err := move.NewTransport(address, s.supervisor,
		move.WithReservedPrefix(s.Conf.ReservedHeaderPrefix),
		move.WithObserver(s.moveMetrics),
	)
	if err != nil {
		return nil, err
	}
	s.transports[address] = t
	return t, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
