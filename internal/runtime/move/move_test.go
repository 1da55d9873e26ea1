package move

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/receive"
)

type fakeEndpoint struct {
	address string
	conn    *fakeConnector
	closed  atomic.Bool
}

func (e *fakeEndpoint) Address() string { return e.address }

func (e *fakeEndpoint) Send(ctx context.Context, env *envelope.Envelope) error {
	return e.conn.send(ctx, env)
}

func (e *fakeEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeConnector struct {
	mu       sync.Mutex
	sent     []*envelope.Envelope
	connects int
	sendFn   func(ctx context.Context, env *envelope.Envelope) error
}

func (c *fakeConnector) Connect(_ context.Context, address string) (SendEndpointContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return &fakeEndpoint{address: address, conn: c}, nil
}

func (c *fakeConnector) send(ctx context.Context, env *envelope.Envelope) error {
	if c.sendFn != nil {
		if err := c.sendFn(ctx, env); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConnector) Sent() []*envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*envelope.Envelope(nil), c.sent...)
}

func (c *fakeConnector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

type recordingObserver struct {
	mu    sync.Mutex
	moves []string
}

func (o *recordingObserver) EnvelopeMoved(input, destination, reason string) {
	o.mu.Lock()
	o.moves = append(o.moves, input+"->"+destination+":"+reason)
	o.mu.Unlock()
}

func newReceived(ctx context.Context) *receive.Context {
	msg := message.NewMessage("msg-1", []byte(`{"order":1}`))
	msg.SetContext(ctx)
	md := msg.Metadata
	md.Set(envelope.MetadataContentType, "application/vnd.order+json")
	md.Set(envelope.MetadataCorrelationID, "corr-1")
	md.Set(envelope.MetadataLabel, "order")
	md.Set(envelope.MetadataTimeToLive, "1m0s")
	md.Set(envelope.MetadataPartitionKey, "pk")
	md.Set(envelope.MetadataReplyTo, "replies")
	md.Set(envelope.MetadataReplyToSessionID, "rs")
	md.Set(envelope.MetadataSessionID, "s")
	md.Set(envelope.MetadataForcePersistence, "true")
	md.Set("Custom", "keep")
	md.Set("MT-Internal", "drop")
	md.Set(envelope.HeaderReason, "stale")
	md.Set(envelope.HeaderHostMachineName, "spoofed")
	md.Set(envelope.HeaderRedeliveryCount, "2")
	return receive.FromMessage(msg, "orders", nil)
}

func newTestTransport(t *testing.T, address string, opts ...Option) (*Transport, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{}
	sup, err := NewSupervisor(conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })
	tr, err := NewTransport(address, sup, opts...)
	require.NoError(t, err)
	return tr, conn
}

func TestMoveCopiesEnvelopeAndStripsReservedHeaders(t *testing.T) {
	observer := &recordingObserver{}
	tr, conn := newTestTransport(t, "orders_error", WithObserver(observer))
	rc := newReceived(context.Background())

	var seen envelope.Headers
	err := tr.Move(rc, func(env *envelope.Envelope, headers envelope.Headers) {
		seen = headers
		headers.Set("Added", 1)
	})
	require.NoError(t, err)

	sent := conn.Sent()
	require.Len(t, sent, 1)
	out := sent[0]
	assert.Equal(t, `{"order":1}`, string(out.Body))
	assert.Equal(t, "application/vnd.order+json", out.ContentType)
	assert.Equal(t, "msg-1", out.MessageID)
	assert.Equal(t, "corr-1", out.CorrelationID)
	assert.Equal(t, "order", out.Label)
	assert.Equal(t, time.Minute, out.TimeToLive)
	assert.Equal(t, "pk", out.PartitionKey)
	assert.Equal(t, "replies", out.ReplyTo)
	assert.Equal(t, "rs", out.ReplyToSessionID)
	assert.Equal(t, "s", out.SessionID)
	assert.True(t, out.ForcePersistence)

	assert.Equal(t, "keep", out.Headers["Custom"])
	assert.Equal(t, 1, out.Headers["Added"])
	assert.NotContains(t, out.Headers, "MT-Internal")
	assert.NotContains(t, out.Headers, envelope.HeaderReason)
	assert.Equal(t, envelope.CurrentHost().MachineName, out.Headers[envelope.HeaderHostMachineName])
	assert.Equal(t, envelope.LibraryVersion, out.Headers[envelope.HeaderHostBusflowVersion])
	assert.Equal(t, out.Headers, seen, "preSend receives the outbound header map")

	assert.Zero(t, rc.OpenStreams())
	assert.Equal(t, []string{"orders->orders_error:"}, observer.moves)
}

func TestMoveWithCustomReservedPrefix(t *testing.T) {
	tr, conn := newTestTransport(t, "audit", WithReservedPrefix("Cust"))
	require.NoError(t, tr.Move(newReceived(context.Background()), nil))

	out := conn.Sent()[0]
	assert.NotContains(t, out.Headers, "Custom")
	assert.Equal(t, "drop", out.Headers["MT-Internal"])
	assert.Equal(t, envelope.CurrentHost().MachineName, out.Headers[envelope.HeaderHostMachineName])
}

func TestMoveRequiresTransportContext(t *testing.T) {
	tr, conn := newTestTransport(t, "orders_error")
	rc := receive.NewContext(context.Background(), envelope.New([]byte("x"), ""), "orders", nil)

	err := tr.Move(rc, nil)
	require.ErrorIs(t, err, errspkg.ErrArgument)
	assert.Contains(t, err.Error(), "missing required transport context")
	assert.False(t, errspkg.IsRetryable(err))
	assert.Empty(t, conn.Sent())
	assert.Zero(t, conn.Connects())
}

func TestMoveUnderCancellation(t *testing.T) {
	t.Run("cancelled before send", func(t *testing.T) {
		tr, conn := newTestTransport(t, "orders_error")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := tr.Move(newReceived(ctx), nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, conn.Sent())
	})

	t.Run("cancelled during send", func(t *testing.T) {
		tr, conn := newTestTransport(t, "orders_error")
		ctx, cancel := context.WithCancel(context.Background())
		conn.sendFn = func(ctx context.Context, _ *envelope.Envelope) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		rc := newReceived(ctx)

		err := tr.Move(rc, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, errspkg.ErrTransport)
		assert.Zero(t, rc.OpenStreams())
	})

	t.Run("cancelled after send completes", func(t *testing.T) {
		tr, conn := newTestTransport(t, "orders_error")
		ctx, cancel := context.WithCancel(context.Background())
		conn.sendFn = func(context.Context, *envelope.Envelope) error {
			cancel()
			return nil
		}
		err := tr.Move(newReceived(ctx), nil)
		assert.ErrorIs(t, err, context.Canceled, "a cancelled move never reports success")
	})
}

func TestMoveWrapsTransportFaultsAndDiscardsEndpoint(t *testing.T) {
	tr, conn := newTestTransport(t, "orders_error")
	boom := errors.New("broker down")
	conn.sendFn = func(context.Context, *envelope.Envelope) error { return boom }

	rc := newReceived(context.Background())
	err := tr.Move(rc, nil)
	require.ErrorIs(t, err, errspkg.ErrTransport)
	require.ErrorIs(t, err, boom)
	assert.True(t, errspkg.IsRetryable(err))
	assert.Zero(t, rc.OpenStreams())

	conn.sendFn = nil
	require.NoError(t, tr.Move(newReceived(context.Background()), nil))
	assert.Equal(t, 2, conn.Connects(), "faulted endpoint context is not reused")
}

func TestReason(t *testing.T) {
	tests := []struct {
		name    string
		headers envelope.Headers
		want    string
	}{
		{"absent", envelope.Headers{}, ""},
		{"plain", envelope.Headers{envelope.HeaderReason: "skipped"}, "skipped"},
		{"fault with message", envelope.Headers{envelope.HeaderReason: "fault", envelope.HeaderFaultMessage: "boom"}, "Fault: boom"},
		{"fault without message", envelope.Headers{envelope.HeaderReason: "fault"}, "Fault"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.headers))
		})
	}
}

type validationError struct{}

func (validationError) Error() string { return "invalid order" }

func TestErrorTransportStampsFault(t *testing.T) {
	observer := &recordingObserver{}
	tr, conn := newTestTransport(t, "orders_error", WithObserver(observer))

	require.NoError(t, NewErrorTransport(tr).Send(newReceived(context.Background()), validationError{}))

	out := conn.Sent()[0]
	assert.Equal(t, ReasonFault, out.Headers[envelope.HeaderReason])
	assert.Equal(t, "invalid order", out.Headers[envelope.HeaderFaultMessage])
	assert.Equal(t, "move.validationError", out.Headers[envelope.HeaderFaultExceptionType])
	assert.Equal(t, "orders", out.Headers[envelope.HeaderFaultInputAddress])
	assert.Equal(t, 2, out.Headers[envelope.HeaderFaultRetryCount])
	assert.IsType(t, time.Time{}, out.Headers[envelope.HeaderFaultTimestamp])
	assert.Equal(t, []string{"orders->orders_error:Fault: invalid order"}, observer.moves)
}

func TestDeadLetterTransportStampsReason(t *testing.T) {
	tr, conn := newTestTransport(t, "orders_skipped")
	dl := NewDeadLetterTransport(tr)

	require.NoError(t, dl.Send(newReceived(context.Background()), ReasonSkipped))
	require.NoError(t, dl.Send(newReceived(context.Background()), ""))

	sent := conn.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, ReasonSkipped, Reason(sent[0].Headers))
	assert.Equal(t, ReasonDeadLetter, Reason(sent[1].Headers))
}

func TestPublisherConnectorPublishesWatermillMessages(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "orders_error")
	require.NoError(t, err)

	conn, err := NewPublisherConnector(pubSub)
	require.NoError(t, err)
	sup, err := NewSupervisor(conn)
	require.NoError(t, err)
	tr, err := NewTransport("orders_error", sup)
	require.NoError(t, err)

	require.NoError(t, NewErrorTransport(tr).Send(newReceived(ctx), errors.New("boom")))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "msg-1", msg.UUID)
		assert.Equal(t, "fault", msg.Metadata.Get(envelope.HeaderReason))
		assert.Equal(t, "boom", msg.Metadata.Get(envelope.HeaderFaultMessage))
		assert.Equal(t, "keep", msg.Metadata.Get("Custom"))
		assert.Empty(t, msg.Metadata.Get("MT-Internal"))
		assert.Equal(t, "corr-1", msg.Metadata.Get(envelope.MetadataCorrelationID))
	case <-ctx.Done():
		t.Fatal("timed out waiting for moved message")
	}

	_, err = NewPublisherConnector(nil)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}
