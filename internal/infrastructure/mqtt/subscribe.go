package mqtt

import (
	"fmt"
	"sort"
)

// MessageHandler processes one inbound message.
//
// Handlers run sequentially on the transport's callback goroutine, so a slow
// handler delays the next inbound message but never blocks publishers. A
// returned error or panic is logged and counted; other handlers for the same
// message still run.
type MessageHandler func(topic string, payload []byte) error

// subscription is one registered pattern.
type subscription struct {
	pattern string
	qos     byte
	handler MessageHandler
}

// Subscribe registers a handler for messages whose topic matches pattern.
//
// Patterns can include MQTT wildcards:
//   - + (single-level): "devices/+/status" matches any device's status
//   - # (multi-level): "devices/#" matches "devices" and everything below it
//
// Subscribing to a pattern that is already registered replaces its handler.
// Subscriptions survive reconnection: the Manager re-subscribes every
// registered pattern each time the connection is re-established.
//
// Parameters:
//   - pattern: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each matching message
//
// Returns:
//   - error: ErrNotConnected, a validation error, or a wrapped ErrSubscribeFailed
//
// Example:
//
//	err := mgr.Subscribe(mgr.Topics().AllDeviceStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (m *Manager) Subscribe(pattern string, qos byte, handler MessageHandler) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return ErrInvalidHandler
	}

	m.subMu.Lock()
	previous, existed := m.subscriptions[pattern]
	m.subscriptions[pattern] = subscription{
		pattern: pattern,
		qos:     qos,
		handler: handler,
	}
	m.subMu.Unlock()

	if err := m.transport.Subscribe(pattern, qos); err != nil {
		m.subMu.Lock()
		if existed {
			m.subscriptions[pattern] = previous
		} else {
			delete(m.subscriptions, pattern)
		}
		m.subMu.Unlock()
		return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, pattern, err)
	}

	m.logger.Debug("subscribed", "pattern", pattern, "qos", qos)
	return nil
}

// Unsubscribe removes the handler for pattern and tells the broker.
//
// Unsubscribing from a pattern that was never subscribed is a no-op.
// Messages already being dispatched may still reach the handler.
func (m *Manager) Unsubscribe(pattern string) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}
	if pattern == "" {
		return fmt.Errorf("%w: pattern cannot be empty", ErrInvalidTopic)
	}

	m.subMu.Lock()
	_, existed := m.subscriptions[pattern]
	delete(m.subscriptions, pattern)
	m.subMu.Unlock()

	if !existed {
		return nil
	}

	if err := m.transport.Unsubscribe(pattern); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsubscribeFailed, pattern, err)
	}

	m.logger.Debug("unsubscribed", "pattern", pattern)
	return nil
}

// SubscriptionCount returns the number of registered patterns.
func (m *Manager) SubscriptionCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscriptions)
}

// HasSubscription checks if a subscription exists for the given pattern.
//
// Note: This checks only the exact pattern string, not pattern matching.
func (m *Manager) HasSubscription(pattern string) bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	_, exists := m.subscriptions[pattern]
	return exists
}

// Patterns returns the registered patterns in sorted order.
func (m *Manager) Patterns() []string {
	m.subMu.RLock()
	patterns := make([]string, 0, len(m.subscriptions))
	for pattern := range m.subscriptions {
		patterns = append(patterns, pattern)
	}
	m.subMu.RUnlock()

	sort.Strings(patterns)
	return patterns
}

// dispatch routes an inbound message to every handler whose pattern matches.
// Handlers are invoked one after another in pattern order.
func (m *Manager) dispatch(topic string, payload []byte) {
	m.metrics.incReceived()

	m.subMu.RLock()
	matched := make([]subscription, 0, 1)
	for _, sub := range m.subscriptions {
		if MatchTopic(topic, sub.pattern) {
			matched = append(matched, sub)
		}
	}
	m.subMu.RUnlock()

	if len(matched) == 0 {
		m.logger.Debug("no handler for inbound message", "topic", topic)
		return
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].pattern < matched[j].pattern })

	for _, sub := range matched {
		if err := m.invoke(sub, topic, payload); err != nil {
			m.handleHandlerError(err)
		}
	}
}

// invoke runs one handler, converting a panic into a HandlerError.
func (m *Manager) invoke(sub subscription, topic string, payload []byte) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				Pattern: sub.pattern,
				Topic:   topic,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	if err := sub.handler(topic, payload); err != nil {
		return &HandlerError{Pattern: sub.pattern, Topic: topic, Err: err}
	}
	return nil
}

func (m *Manager) handleHandlerError(err *HandlerError) {
	m.metrics.incHandlerErrors()
	m.logger.Error("message handler failed",
		"pattern", err.Pattern,
		"topic", err.Topic,
		"error", err.Err,
	)
	if m.onHandlerErr != nil {
		m.onHandlerErr(err)
	}
}

// restoreSubscriptions re-subscribes every registered pattern after a
// (re)connection. Failures are logged; the pattern stays registered and is
// tried again on the next reconnection.
func (m *Manager) restoreSubscriptions() {
	m.subMu.RLock()
	subs := make([]subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.subMu.RUnlock()

	for _, sub := range subs {
		if err := m.transport.Subscribe(sub.pattern, sub.qos); err != nil {
			m.logger.Error("failed to restore subscription", "pattern", sub.pattern, "error", err)
			continue
		}
		m.logger.Debug("subscription restored", "pattern", sub.pattern)
	}
}

func (m *Manager) clearSubscriptions() {
	m.subMu.Lock()
	clear(m.subscriptions)
	m.subMu.Unlock()
}
