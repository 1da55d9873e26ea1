package move

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// DefaultSendEndpointLimit bounds concurrently leased endpoint contexts per
// destination when no limit is configured.
const DefaultSendEndpointLimit = 4

// SendEndpointContext is a ready outbound channel for one address.
type SendEndpointContext interface {
	Address() string
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Connector opens endpoint contexts. Contexts that implement io.Closer are
// closed when the supervisor discards them.
type Connector interface {
	Connect(ctx context.Context, address string) (SendEndpointContext, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, address string) (SendEndpointContext, error)

func (f ConnectorFunc) Connect(ctx context.Context, address string) (SendEndpointContext, error) {
	return f(ctx, address)
}

// SupervisorOption customises a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSendEndpointLimit sets the per-destination bound. Values below one are
// ignored.
func WithSendEndpointLimit(limit int) SupervisorOption {
	return func(s *Supervisor) {
		if limit > 0 {
			s.limit = int64(limit)
		}
	}
}

// WithSupervisorMetrics reports leases and waiters to registerer.
func WithSupervisorMetrics(registerer prometheus.Registerer) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = newSupervisorMetrics(registerer)
	}
}

// Supervisor hands out endpoint contexts with bounded concurrency per
// destination. Callers beyond the bound wait in FIFO order until a lease is
// released or their context is cancelled.
type Supervisor struct {
	connector Connector
	limit     int64
	metrics   *supervisorMetrics

	mu     sync.Mutex
	dests  map[string]*destination
	closed bool
}

type destination struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	idle []SendEndpointContext
}

// NewSupervisor returns a supervisor opening contexts through connector.
func NewSupervisor(connector Connector, opts ...SupervisorOption) (*Supervisor, error) {
	if connector == nil {
		return nil, errspkg.NewConfigurationError("send endpoint supervisor", errspkg.ErrFactoryRequired)
	}
	s := &Supervisor{
		connector: connector,
		limit:     DefaultSendEndpointLimit,
		dests:     make(map[string]*destination),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Limit returns the per-destination bound.
func (s *Supervisor) Limit() int { return int(s.limit) }

func (s *Supervisor) destination(address string) (*destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errspkg.ErrSupervisorClosed
	}
	d, ok := s.dests[address]
	if !ok {
		d = &destination{sem: semaphore.NewWeighted(s.limit)}
		s.dests[address] = d
	}
	return d, nil
}

// Lease is exclusive use of one endpoint context. It must be released exactly
// once; extra calls are ignored.
type Lease struct {
	supervisor *Supervisor
	dest       *destination
	address    string
	endpoint   SendEndpointContext
	once       sync.Once
}

func (l *Lease) Endpoint() SendEndpointContext { return l.endpoint }

// Release returns the endpoint context to the idle set.
func (l *Lease) Release() {
	l.once.Do(func() { l.supervisor.release(l, true) })
}

// Discard drops the endpoint context instead of reusing it, typically after a
// transport fault.
func (l *Lease) Discard() {
	l.once.Do(func() { l.supervisor.release(l, false) })
}

// Acquire waits for a free slot on address and returns a lease on an idle or
// newly connected endpoint context.
func (s *Supervisor) Acquire(ctx context.Context, address string) (*Lease, error) {
	if address == "" {
		return nil, errspkg.NewArgumentError("address", errspkg.ErrAddressRequired.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest, err := s.destination(address)
	if err != nil {
		return nil, err
	}

	s.metrics.waiting(address, 1)
	err = dest.sem.Acquire(ctx, 1)
	s.metrics.waiting(address, -1)
	if err != nil {
		return nil, err
	}

	endpoint, err := s.checkout(ctx, dest, address)
	if err != nil {
		dest.sem.Release(1)
		return nil, err
	}
	s.metrics.leased(address, 1)
	return &Lease{supervisor: s, dest: dest, address: address, endpoint: endpoint}, nil
}

func (s *Supervisor) checkout(ctx context.Context, dest *destination, address string) (SendEndpointContext, error) {
	dest.mu.Lock()
	if n := len(dest.idle); n > 0 {
		endpoint := dest.idle[n-1]
		dest.idle = dest.idle[:n-1]
		dest.mu.Unlock()
		return endpoint, nil
	}
	dest.mu.Unlock()

	endpoint, err := s.connector.Connect(ctx, address)
	if err != nil {
		return nil, errspkg.NewTransportError(address, err)
	}
	s.metrics.connected(address)
	return endpoint, nil
}

func (s *Supervisor) release(l *Lease, reuse bool) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if reuse && !closed {
		l.dest.mu.Lock()
		l.dest.idle = append(l.dest.idle, l.endpoint)
		l.dest.mu.Unlock()
	} else {
		_ = closeEndpoint(l.endpoint)
	}
	s.metrics.leased(l.address, -1)
	l.dest.sem.Release(1)
}

// Send runs fn with a leased endpoint context for address. The lease is
// discarded when fn reports a transport fault and released otherwise.
func (s *Supervisor) Send(ctx context.Context, address string, fn func(SendEndpointContext) error) error {
	lease, err := s.Acquire(ctx, address)
	if err != nil {
		return err
	}
	err = fn(lease.Endpoint())
	if errors.Is(err, errspkg.ErrTransport) {
		lease.Discard()
	} else {
		lease.Release()
	}
	return err
}

// Close rejects further acquisitions and closes idle endpoint contexts. Leased
// contexts are closed as they are returned.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dests := s.dests
	s.mu.Unlock()

	var errs []error
	for _, d := range dests {
		d.mu.Lock()
		for _, endpoint := range d.idle {
			if err := closeEndpoint(endpoint); err != nil {
				errs = append(errs, err)
			}
		}
		d.idle = nil
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

func closeEndpoint(endpoint SendEndpointContext) error {
	if c, ok := endpoint.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type supervisorMetrics struct {
	leasedGauge  *prometheus.GaugeVec
	waitingGauge *prometheus.GaugeVec
	connects     *prometheus.CounterVec
}

func newSupervisorMetrics(registerer prometheus.Registerer) *supervisorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &supervisorMetrics{
		leasedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "busflow",
			Subsystem: "send_endpoint",
			Name:      "leased",
			Help:      "Endpoint contexts currently leased per destination",
		}, []string{"destination"}),
		waitingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "busflow",
			Subsystem: "send_endpoint",
			Name:      "waiting",
			Help:      "Callers waiting for an endpoint context per destination",
		}, []string{"destination"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "send_endpoint",
			Name:      "connects_total",
			Help:      "Endpoint contexts opened per destination",
		}, []string{"destination"}),
	}
	m.leasedGauge = registerOrExisting(registerer, m.leasedGauge)
	m.waitingGauge = registerOrExisting(registerer, m.waitingGauge)
	m.connects = registerOrExisting(registerer, m.connects)
	return m
}

// registerOrExisting returns the collector already registered under the same
// descriptor so several supervisors share one series.
func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *supervisorMetrics) leased(address string, delta float64) {
	if m != nil {
		m.leasedGauge.WithLabelValues(address).Add(delta)
	}
}

func (m *supervisorMetrics) waiting(address string, delta float64) {
	if m != nil {
		m.waitingGauge.WithLabelValues(address).Add(delta)
	}
}

func (m *supervisorMetrics) connected(address string) {
	if m != nil {
		m.connects.WithLabelValues(address).Inc()
	}
}
