package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/busflow/internal/runtime/config"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	transportpkg "github.com/drblury/busflow/internal/runtime/transport"
	"github.com/drblury/busflow/transport/transporttest"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:         "channel",
		RetryMaxRetries:      1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	}
}

// newChannelService builds a service on the in-process channel transport.
func newChannelService(t *testing.T, mutate func(*configpkg.Config, *ServiceDependencies)) *Service {
	t.Helper()
	cfg := testConfig()
	deps := ServiceDependencies{MetricsRegisterer: prometheus.NewRegistry()}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	svc, err := NewService(cfg, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// newRecordingService builds a service whose transport records published
// messages instead of delivering them.
func newRecordingService(t *testing.T) (*Service, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	svc := newChannelService(t, func(_ *configpkg.Config, deps *ServiceDependencies) {
		deps.TransportFactory = fakeFactory(pub, &transporttest.Subscriber{})
	})
	return svc, pub
}

func fakeFactory(pub message.Publisher, sub message.Subscriber) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{Publisher: pub, Subscriber: sub}, nil
	})
}

// startService runs the router until the test ends.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}

// receiveOne subscribes to queue and returns the first message, acked.
func receiveOne(t *testing.T, svc *Service, queue string) *message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := svc.Subscriber().Subscribe(ctx, queue)
	require.NoError(t, err)
	select {
	case msg := <-messages:
		require.NotNil(t, msg, "subscription to %s closed", queue)
		msg.Ack()
		return msg
	case <-ctx.Done():
		t.Fatalf("no message on %s", queue)
		return nil
	}
}
