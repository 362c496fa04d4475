package mqtt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.setConnected(true)
		m.setQueueDepth(3)
		m.incPublished()
		m.incDropped(dropReasonOverflow)
		m.incReceived()
		m.incHandlerErrors()
		m.incReconnectAttempts()
		m.incConnectionsLost()
	})
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.incDropped(dropReasonOverflow)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestMetrics_TrackConnectionLifecycle(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m, broker := connectTestManager(t, WithMetrics(metrics))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.connected), 0)

	broker.drop(errBrokerDown)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.connectionsLost), 0)

	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.connected) == 1 }, waitFor, tick)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.reconnectAttempts), 0)

	require.NoError(t, m.PublishString("a/b", "x", 1, false))
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.published) == 1 }, waitFor, tick)

	m.Disconnect()
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.connected), 0)
}
