package mqtt

import (
	"errors"
	"fmt"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publish, subscribe or unsubscribe is
	// attempted while the manager is not in the Connected state.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is reported when a connection attempt is refused
	// or the broker is unreachable.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectTimeout is reported when Connect gives up waiting.
	ErrConnectTimeout = errors.New("mqtt: connect timed out")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics, topics containing a null
	// byte, or wildcards in the wrong place.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidPayload is returned for empty or oversized payloads.
	ErrInvalidPayload = errors.New("mqtt: invalid payload")

	// ErrInvalidHandler is returned when Subscribe is given a nil handler.
	ErrInvalidHandler = errors.New("mqtt: handler cannot be nil")
)

// HandlerError describes a subscription handler that failed while a message
// was being dispatched. It is logged and never propagated to the transport.
type HandlerError struct {
	Pattern string
	Topic   string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("mqtt: handler for %q failed on %q: %v", e.Pattern, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
