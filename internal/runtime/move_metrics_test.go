package runtime

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestMoveMetricsRecordsMoves(t *testing.T) {
	m := NewMoveMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.EnvelopeMoved("orders", "orders_error", "Fault: boom")
	m.EnvelopeMoved("orders", "orders_error", "Fault")
	m.EnvelopeMoved("orders", "orders_skipped", "skipped")
	m.EnvelopeMoved("payments", "orders_error", "")

	errs := m.GetDestinationMetrics("orders_error")
	require.NotNil(t, errs)
	assert.EqualValues(t, 3, errs.MovesTotal)
	assert.EqualValues(t, 2, errs.ByReason["fault"])
	assert.EqualValues(t, 1, errs.ByReason["none"])
	assert.EqualValues(t, 2, errs.ByInput["orders"])
	assert.False(t, errs.LastMovedAt.IsZero())

	assert.Nil(t, m.GetDestinationMetrics("unknown"))

	snap := m.GetSnapshot()
	assert.EqualValues(t, 4, snap.TotalMoves)
	assert.Len(t, snap.Destinations, 2)

	assert.Equal(t, 2.0, counterValue(t, m.movedTotal.WithLabelValues("orders", "orders_error", "fault")))
	assert.Equal(t, 1.0, counterValue(t, m.movedTotal.WithLabelValues("orders", "orders_skipped", "skipped")))
}

func TestMoveMetricsSnapshotIsACopy(t *testing.T) {
	m := NewMoveMetrics(prometheus.NewRegistry())
	m.EnvelopeMoved("orders", "orders_dead_letter", "ttl-expired")

	snap := m.GetDestinationMetrics("orders_dead_letter")
	snap.ByReason["ttl-expired"] = 100

	assert.EqualValues(t, 1, m.GetDestinationMetrics("orders_dead_letter").ByReason["ttl-expired"])
}

func TestMoveMetricsReset(t *testing.T) {
	m := NewMoveMetrics(prometheus.NewRegistry())
	m.EnvelopeMoved("orders", "orders_error", "Fault")
	m.Reset()
	assert.Zero(t, m.GetSnapshot().TotalMoves)
}

func TestMoveMetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewMoveMetrics(reg).Register())
	require.NoError(t, NewMoveMetrics(reg).Register(), "already registered collectors are tolerated")
}
