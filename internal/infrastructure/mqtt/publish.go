package mqtt

import (
	"context"
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// retryDelay is the pause before re-sending a QoS 1/2 message that failed
// while the connection stayed up.
const retryDelay = 500 * time.Millisecond

// Publish accepts a message for delivery to the specified MQTT topic.
//
// Parameters:
//   - topic: The concrete topic to publish to (e.g., "devices/dev1/telemetry")
//   - payload: The message payload (typically JSON, max 1MB, non-empty)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// The message is placed on the bounded outbound queue and sent in order by
// the background sender. When the queue is full the overflow policy decides
// which message is discarded; Publish itself never blocks on the broker.
// QoS 1 and 2 messages that fail to send stay queued and are retried,
// including across a reconnect, until MaxRetryAttempts is exceeded.
//
// Returns:
//   - error: ErrNotConnected unless the manager is Connected, or a
//     validation error (ErrInvalidTopic, ErrInvalidPayload, ErrInvalidQoS)
//
// Example:
//
//	topic := mgr.Topics().DeviceStatus("dev1")
//	err := mgr.Publish(topic, []byte("online"), 1, true)
func (m *Manager) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}
	if err := validateTopic(topic); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrInvalidPayload, len(payload), maxPayloadSize)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	// Copy so later changes to the caller's slice do not leak into the queue.
	body := make([]byte, len(payload))
	copy(body, payload)

	dropped := m.queue.push(OutboundMessage{
		Topic:      topic,
		Payload:    body,
		QoS:        qos,
		Retained:   retained,
		EnqueuedAt: time.Now(),
	})
	if dropped != nil {
		m.metrics.incDropped(dropReasonOverflow)
		m.logger.Warn("outbound queue full, message dropped",
			"policy", m.queue.policy,
			"dropped_topic", dropped.Topic,
			"capacity", m.queue.capacity,
		)
	}
	m.metrics.setQueueDepth(m.queue.len())

	return nil
}

// PublishString is a convenience method that publishes a string payload.
//
// This is equivalent to calling Publish with []byte(payload).
func (m *Manager) PublishString(topic string, payload string, qos byte, retained bool) error {
	return m.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (m *Manager) PublishRetained(topic string, payload []byte) error {
	return m.Publish(topic, payload, byte(m.cfg.QoS), true) //nolint:gosec // QoS validated by config (0-2)
}

// PendingCount returns the number of messages waiting in the outbound queue.
func (m *Manager) PendingCount() int {
	return m.queue.len()
}

// startSender launches the queue-draining goroutine if it is not running.
// Callers hold connMu.
func (m *Manager) startSender() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.senderCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.senderCancel = cancel
	m.senderDone = done

	go func() {
		defer close(done)
		m.runSender(ctx)
	}()
}

// stopSender stops the sender and waits for it to exit. Callers hold connMu.
func (m *Manager) stopSender() {
	m.stateMu.Lock()
	cancel, done := m.senderCancel, m.senderDone
	m.senderCancel, m.senderDone = nil, nil
	m.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runSender drains the queue whenever it is signalled.
func (m *Manager) runSender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.queue.ready:
			m.drain(ctx)
		}
	}
}

// drain sends queued messages in order while the manager is connected.
func (m *Manager) drain(ctx context.Context) {
	for ctx.Err() == nil && m.State() == StateConnected {
		msg, ok := m.queue.peek()
		if !ok {
			return
		}

		err := m.transport.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
		if err == nil {
			m.queue.ack(msg.seq)
			m.metrics.incPublished()
			m.metrics.setQueueDepth(m.queue.len())
			continue
		}

		if msg.QoS == 0 {
			m.queue.ack(msg.seq)
			m.metrics.incDropped(dropReasonQoS0)
			m.metrics.setQueueDepth(m.queue.len())
			m.logger.Debug("QoS 0 message not delivered", "topic", msg.Topic, "error", err)
			continue
		}

		attempts := m.queue.fail(msg.seq)
		if attempts == 0 {
			// Evicted by an overflow while in flight.
			continue
		}
		if attempts > m.cfg.Reconnect.MaxRetryAttempts {
			m.queue.ack(msg.seq)
			m.metrics.incDropped(dropReasonRetries)
			m.metrics.setQueueDepth(m.queue.len())
			m.logger.Error("message dropped after retries",
				"topic", msg.Topic,
				"qos", msg.QoS,
				"attempts", attempts,
				"error", err,
			)
			continue
		}

		m.logger.Warn("publish failed, will retry",
			"topic", msg.Topic,
			"attempt", attempts,
			"error", err,
		)

		// A lost connection resumes draining from handleConnected.
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}
