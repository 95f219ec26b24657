package listener

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// a second instance on the same registry collides but is tolerated
	require.NoError(t, NewMetrics(reg).Register())
}

func TestMetricsSecondInstanceSharesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	require.NoError(t, first.Register())

	second := NewMetrics(reg)
	require.NoError(t, second.Register())

	second.recordReceived("orders", "orders.created")
	second.containerStarted()

	assert.Equal(t, 1.0, testutil.ToFloat64(first.received.WithLabelValues("orders", "orders.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.runningContainers))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "natsflow_container_messages_received_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		require.NoError(t, m.Register())
		m.recordReceived("c", "s")
		m.RecordFiltered("c")
		m.recordListenerFailure("c")
		m.recordHandlerFailure("c")
		m.observeDispatch("c", time.Millisecond)
		m.containerStarted()
		m.containerStopped()
		m.Reset()
	})
	assert.Nil(t, m.Stats("c"))
	assert.Nil(t, m.Snapshot())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.recordReceived("orders", "orders.created")
	m.recordReceived("orders", "orders.updated")
	m.RecordFiltered("orders")
	m.recordListenerFailure("orders")
	m.recordHandlerFailure("orders")
	m.recordReceived("billing", "billing.paid")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.received.WithLabelValues("orders", "orders.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filtered.WithLabelValues("orders")))

	stats := m.Stats("orders")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(1), stats.Filtered)
	assert.Equal(t, uint64(1), stats.ListenerFailures)
	assert.Equal(t, uint64(1), stats.HandlerFailures)
	assert.False(t, stats.LastMessageAt.IsZero())

	stats.Received = 99
	assert.Equal(t, uint64(2), m.Stats("orders").Received)

	snap := m.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, uint64(1), snap["billing"].Received)
	assert.Nil(t, m.Stats("unknown"))

	m.Reset()
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, 0, testutil.CollectAndCount(m.received))
}

func TestMetricsRunningGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.containerStarted()
	m.containerStarted()
	m.containerStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runningContainers))
}
