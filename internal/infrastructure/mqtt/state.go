package mqtt

import "time"

// ConnectionState is the connection manager's lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopping
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ConnectStatus is the outcome of a Connect call.
type ConnectStatus string

const (
	ConnectStatusConnected      ConnectStatus = "connected"
	ConnectStatusTimedOut       ConnectStatus = "timed_out"
	ConnectStatusTransportError ConnectStatus = "transport_error"
	ConnectStatusCancelled      ConnectStatus = "cancelled"
)

// ConnectResult reports how Connect finished.
//
// Connect never fails with a bare error: a timed out or refused attempt is
// described here and retried in the background when auto-reconnect is on.
type ConnectResult struct {
	Status ConnectStatus
	Err    error
}

// OK reports whether the manager was connected when Connect returned.
func (r ConnectResult) OK() bool {
	return r.Status == ConnectStatusConnected
}

// EventKind identifies a connection notification.
type EventKind string

const (
	// EventConnected fires on the initial connection and on every reconnection.
	EventConnected EventKind = "connected"

	// EventConnectionLost fires when an established connection drops unexpectedly.
	EventConnectionLost EventKind = "connection_lost"

	// EventDisconnected fires after a graceful Disconnect of a live connection.
	EventDisconnected EventKind = "disconnected"
)

// ConnectionEvent is delivered to observers registered with Manager.Observe.
type ConnectionEvent struct {
	Kind     EventKind
	ClientID string
	Err      error
	At       time.Time
}
