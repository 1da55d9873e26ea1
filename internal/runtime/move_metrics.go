package runtime

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/busflow/internal/runtime/move"
)

// MoveMetrics counts envelopes moved out of input queues. It implements
// move.Observer and is attached to every move transport the Service builds.
type MoveMetrics struct {
	mu sync.RWMutex

	destinations map[string]*MoveDestinationMetrics

	movedTotal *prometheus.CounterVec
	lastMoved  *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// MoveDestinationMetrics holds the counters of one destination address.
type MoveDestinationMetrics struct {
	MovesTotal  uint64            `json:"moves_total"`
	ByReason    map[string]uint64 `json:"by_reason"`
	ByInput     map[string]uint64 `json:"by_input"`
	LastMovedAt time.Time         `json:"last_moved_at"`
}

// MoveMetricsSnapshot provides a point-in-time view of move metrics.
type MoveMetricsSnapshot struct {
	TotalMoves   uint64                             `json:"total_moves"`
	Destinations map[string]*MoveDestinationMetrics `json:"destinations"`
	CollectedAt  time.Time                          `json:"collected_at"`
}

var _ move.Observer = (*MoveMetrics)(nil)

// NewMoveMetrics creates a move metrics collector. A nil registerer uses the
// Prometheus default registerer.
func NewMoveMetrics(registerer prometheus.Registerer) *MoveMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MoveMetrics{
		destinations: make(map[string]*MoveDestinationMetrics),
		registerer:   registerer,
		movedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "move",
			Name:      "envelopes_total",
			Help:      "Total number of envelopes moved to another address",
		}, []string{"input_address", "destination", "reason"}),
		lastMoved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "busflow",
			Subsystem: "move",
			Name:      "last_moved_timestamp_seconds",
			Help:      "Unix time of the last envelope moved to a destination",
		}, []string{"destination"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *MoveMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.movedTotal, m.lastMoved} {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// EnvelopeMoved records one move. Fault reasons are collapsed to "fault" so the
// fault message does not become a label value.
func (m *MoveMetrics) EnvelopeMoved(inputAddress, destination, reason string) {
	kind := reasonKind(reason)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	dest := m.getOrCreateDestination(destination)
	dest.MovesTotal++
	dest.ByReason[kind]++
	dest.ByInput[inputAddress]++
	dest.LastMovedAt = now

	m.movedTotal.WithLabelValues(inputAddress, destination, kind).Inc()
	m.lastMoved.WithLabelValues(destination).Set(float64(now.Unix()))
}

func reasonKind(reason string) string {
	switch {
	case reason == "":
		return "none"
	case strings.HasPrefix(reason, "Fault"):
		return move.ReasonFault
	default:
		return reason
	}
}

// GetSnapshot returns a point-in-time snapshot of all move metrics.
func (m *MoveMetrics) GetSnapshot() MoveMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MoveMetricsSnapshot{
		Destinations: make(map[string]*MoveDestinationMetrics, len(m.destinations)),
		CollectedAt:  time.Now(),
	}
	for address, dest := range m.destinations {
		snapshot.Destinations[address] = dest.clone()
		snapshot.TotalMoves += dest.MovesTotal
	}
	return snapshot
}

// GetDestinationMetrics returns a copy of the metrics of one destination, or
// nil when nothing was moved there.
func (m *MoveMetrics) GetDestinationMetrics(destination string) *MoveDestinationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dest, ok := m.destinations[destination]; ok {
		return dest.clone()
	}
	return nil
}

func (m *MoveMetrics) getOrCreateDestination(destination string) *MoveDestinationMetrics {
	if dest, ok := m.destinations[destination]; ok {
		return dest
	}
	dest := &MoveDestinationMetrics{
		ByReason: make(map[string]uint64),
		ByInput:  make(map[string]uint64),
	}
	m.destinations[destination] = dest
	return dest
}

func (d *MoveDestinationMetrics) clone() *MoveDestinationMetrics {
	out := &MoveDestinationMetrics{
		MovesTotal:  d.MovesTotal,
		ByReason:    make(map[string]uint64, len(d.ByReason)),
		ByInput:     make(map[string]uint64, len(d.ByInput)),
		LastMovedAt: d.LastMovedAt,
	}
	for k, v := range d.ByReason {
		out.ByReason[k] = v
	}
	for k, v := range d.ByInput {
		out.ByInput[k] = v
	}
	return out
}

// Reset clears all metrics.
func (m *MoveMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destinations = make(map[string]*MoveDestinationMetrics)
	m.movedTotal.Reset()
	m.lastMoved.Reset()
}
