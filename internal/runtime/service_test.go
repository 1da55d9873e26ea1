package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/saga"
	transportreg "github.com/drblury/busflow/transport"
	kafkatransport "github.com/drblury/busflow/transport/kafka"
	"github.com/drblury/busflow/transport/transporttest"
)

func TestNewServiceRequiresConfigAndLogger(t *testing.T) {
	_, err := NewService(nil, newTestLogger(), context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewService(testConfig(), nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*configpkg.Config)
		want   string
	}{
		{"kafka without brokers", func(c *configpkg.Config) { c.PubSubSystem = "kafka" }, "kafka: brokers are required"},
		{"unknown saga repository", func(c *configpkg.Config) { c.SagaRepository = "mongo" }, `unknown repository "mongo"`},
		{"negative endpoint limit", func(c *configpkg.Config) { c.SendEndpointLimit = -1 }, "invalid send endpoint limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})
			var validationErr errspkg.ConfigValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewServiceUnknownTransport(t *testing.T) {
	cfg := testConfig()
	cfg.PubSubSystem = "carrier-pigeon"

	_, err := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, transportreg.ErrUnknownTransport)
	assert.ErrorContains(t, err, `build "carrier-pigeon" transport`)
}

func TestNewServiceConfiguresKafka(t *testing.T) {
	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})

	pub := &transporttest.Publisher{}
	var publisherConfig kafka.PublisherConfig
	var subscriberConfig kafka.SubscriberConfig
	kafkatransport.PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		publisherConfig = cfg
		return pub, nil
	}
	kafkatransport.SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		subscriberConfig = cfg
		return &transporttest.Subscriber{}, nil
	}

	svc := newChannelService(t, func(cfg *configpkg.Config, _ *ServiceDependencies) {
		cfg.PubSubSystem = "kafka"
		cfg.KafkaBrokers = []string{"broker-1:9092"}
		cfg.KafkaClientID = "orders-service"
		cfg.KafkaConsumerGroup = "orders"
	})

	assert.Equal(t, []string{"broker-1:9092"}, publisherConfig.Brokers)
	assert.Equal(t, "orders-service", publisherConfig.OverwriteSaramaConfig.ClientID)
	assert.Equal(t, "orders", subscriberConfig.ConsumerGroup)
	assert.Equal(t, transportreg.KafkaCapabilities, svc.Capabilities())
	assert.Same(t, pub, svc.Publisher())
}

func TestServiceCapabilitiesOfChannel(t *testing.T) {
	svc := newChannelService(t, nil)
	assert.Equal(t, transportreg.ChannelCapabilities, svc.Capabilities())
	assert.NotNil(t, svc.Supervisor())
	assert.NotNil(t, svc.Subscriber())
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	svc, pub := newRecordingService(t)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.True(t, pub.Closed())

	err := svc.PublishJSON(context.Background(), "orders", orderSubmitted{OrderID: "o-1"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrSupervisorClosed)
}

func TestMoveTransportIsCachedPerAddress(t *testing.T) {
	svc, _ := newRecordingService(t)

	first, err := svc.MoveTransport("orders_error")
	require.NoError(t, err)
	second, err := svc.MoveTransport("orders_error")
	require.NoError(t, err)
	other, err := svc.MoveTransport("orders_skipped")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	_, err = svc.MoveTransport("")
	assert.ErrorIs(t, err, errspkg.ErrAddressRequired)
}

func TestServiceRedisClientOwnership(t *testing.T) {
	t.Run("created from config", func(t *testing.T) {
		svc := newChannelService(t, func(cfg *configpkg.Config, deps *ServiceDependencies) {
			cfg.SagaRepository = configpkg.SagaRepositoryRedis
			cfg.RedisAddr = "127.0.0.1:6379"
			deps.TransportFactory = fakeFactory(&transporttest.Publisher{}, &transporttest.Subscriber{})
		})
		assert.NotNil(t, svc.redisClient)
		assert.True(t, svc.ownsRedis)
	})

	t.Run("supplied by caller", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
		t.Cleanup(func() { _ = client.Close() })
		svc := newChannelService(t, func(cfg *configpkg.Config, deps *ServiceDependencies) {
			cfg.SagaRepository = configpkg.SagaRepositoryRedis
			cfg.RedisAddr = "127.0.0.1:6379"
			deps.RedisClient = client
			deps.TransportFactory = fakeFactory(&transporttest.Publisher{}, &transporttest.Subscriber{})
		})
		assert.Same(t, client, svc.redisClient)
		assert.False(t, svc.ownsRedis)
	})
}

func TestIntrospectionHandler(t *testing.T) {
	svc, _ := newRecordingService(t)
	require.NoError(t, RegisterConsumer(svc, ConsumerRegistration[orderSubmitted]{
		Queue:   "orders",
		Handler: func(*saga.ConsumeContext[orderSubmitted]) error { return nil },
	}))

	rec := httptest.NewRecorder()
	svc.IntrospectionHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/busflow/handlers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Handlers []map[string]any `json:"handlers"`
		Moves    map[string]any   `json:"moves"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Handlers, 1)
	assert.NotNil(t, body.Moves)

	rec = httptest.NewRecorder()
	svc.IntrospectionHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/busflow/handlers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}
