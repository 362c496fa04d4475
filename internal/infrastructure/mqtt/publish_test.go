package mqtt

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_NotConnected(t *testing.T) {
	m, broker := newTestManager(t, testMQTTConfig())

	err := m.Publish("devices/dev1/telemetry", []byte(`{}`), 1, false)

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, m.PendingCount())
	assert.Empty(t, broker.sent(""))
}

func TestPublish_Validation(t *testing.T) {
	m, _ := connectTestManager(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"null byte in topic", "devices/\x00", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard topic", "devices/+/status", []byte("x"), 1, ErrInvalidTopic},
		{"empty payload", "devices/dev1/status", nil, 1, ErrInvalidPayload},
		{"oversized payload", "devices/dev1/status", bytes.Repeat([]byte("a"), maxPayloadSize+1), 1, ErrInvalidPayload},
		{"invalid qos", "devices/dev1/status", []byte("x"), 3, ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, m.Publish(tt.topic, tt.payload, tt.qos, false), tt.wantErr)
		})
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	m, broker := connectTestManager(t)

	for _, body := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, m.PublishString("devices/dev1/telemetry", body, 1, false))
	}

	require.Eventually(t, func() bool { return len(broker.sent("devices/dev1/telemetry")) == 5 }, waitFor, tick)
	var got []string
	for _, msg := range broker.sent("devices/dev1/telemetry") {
		got = append(got, string(msg.payload))
		assert.Equal(t, byte(1), msg.qos)
		assert.False(t, msg.retained)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
	assert.Eventually(t, func() bool { return m.PendingCount() == 0 }, waitFor, tick)
}

func TestPublishRetained_UsesDefaultQoS(t *testing.T) {
	m, broker := connectTestManager(t)

	require.NoError(t, m.PublishRetained("devices/dev1/status", []byte(`"online"`)))

	require.Eventually(t, func() bool { return len(broker.sent("devices/dev1/status")) == 1 }, waitFor, tick)
	msg := broker.sent("devices/dev1/status")[0]
	assert.True(t, msg.retained)
	assert.Equal(t, byte(1), msg.qos)
}

func TestPublish_CopiesPayload(t *testing.T) {
	m, broker := connectTestManager(t)
	payload := []byte("original")

	require.NoError(t, m.Publish("a/b", payload, 1, false))
	copy(payload, "mutated!")

	require.Eventually(t, func() bool { return len(broker.sent("a/b")) == 1 }, waitFor, tick)
	assert.Equal(t, "original", string(broker.sent("a/b")[0].payload))
}

func TestPublish_RoundTripThroughSubscription(t *testing.T) {
	m, _ := connectTestManager(t)

	var mu sync.Mutex
	var calls []string
	require.NoError(t, m.Subscribe("devices/+/status", 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, topic+"="+string(payload))
		return nil
	}))

	require.NoError(t, m.PublishString("devices/abc/status", "online", 1, false))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"devices/abc/status=online"}, calls)
}

func TestPublish_QoS0FailureIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, broker := connectTestManager(t, WithMetrics(metrics))
	broker.setPublishFailures(1)

	require.NoError(t, m.PublishString("qos0/a", "a", 0, false))
	require.NoError(t, m.PublishString("qos0/b", "b", 0, false))

	require.Eventually(t, func() bool { return len(broker.sent("qos0/b")) == 1 }, waitFor, tick)
	assert.Empty(t, broker.sent("qos0/a"))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.dropped.WithLabelValues(dropReasonQoS0)), 0)
}

func TestPublish_QoS1FailureIsRetried(t *testing.T) {
	m, broker := connectTestManager(t)
	broker.setPublishFailures(1)

	require.NoError(t, m.PublishString("qos1/a", "a", 1, false))
	require.NoError(t, m.PublishString("qos1/b", "b", 1, false))

	require.Eventually(t, func() bool { return len(broker.sent("qos1/b")) == 1 }, waitFor, tick)
	sent := broker.sent("")
	var order []string
	for _, msg := range sent {
		if strings.HasPrefix(msg.topic, "qos1/") {
			order = append(order, msg.topic)
		}
	}
	assert.Equal(t, []string{"qos1/a", "qos1/b"}, order, "retry must keep FIFO order")
}

func TestPublish_DropsAfterRetriesExhausted(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Reconnect.MaxRetryAttempts = 1
	metrics := NewMetrics(prometheus.NewRegistry())
	m, broker := newTestManager(t, cfg, WithMetrics(metrics))
	require.True(t, m.Connect(t.Context(), time.Second).OK())
	broker.setPublishFailures(2)

	require.NoError(t, m.PublishString("qos1/x", "x", 1, false))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.dropped.WithLabelValues(dropReasonRetries)) == 1
	}, waitFor, tick)
	assert.Empty(t, broker.sent("qos1/x"))
	assert.Equal(t, 0, m.PendingCount())
}

func TestPublish_QueuedMessageSurvivesReconnect(t *testing.T) {
	m, broker := connectTestManager(t)
	broker.setPublishFailures(1)

	require.NoError(t, m.PublishString("qos1/pending", "p", 1, false))
	broker.drop(errBrokerDown)

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)
	assert.Eventually(t, func() bool { return len(broker.sent("qos1/pending")) == 1 }, waitFor, tick)
}

func TestPublish_OverflowDropsOldest(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Queue.MaxPending = 2
	cfg.Reconnect.MaxRetryAttempts = 1000
	metrics := NewMetrics(prometheus.NewRegistry())
	m, broker := newTestManager(t, cfg, WithMetrics(metrics))
	require.True(t, m.Connect(t.Context(), time.Second).OK())
	broker.setPublishFailures(1_000_000)

	for _, topic := range []string{"q/a", "q/b", "q/c"} {
		assert.NoError(t, m.PublishString(topic, "x", 1, false), "publish accepts the call on overflow")
	}

	assert.Equal(t, 2, m.PendingCount())
	head, ok := m.queue.peek()
	require.True(t, ok)
	assert.Equal(t, "q/b", head.Topic)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.dropped.WithLabelValues(dropReasonOverflow)), 0)
}
