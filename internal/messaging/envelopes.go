package messaging

import "time"

// Wire envelopes published by the Builder. All fields are camelCase JSON.

// TelemetryEnvelope carries a device reading.
// Topic: devices/{deviceId}/telemetry (also energy/{deviceId}/data)
// QoS: 1, Retained: No
type TelemetryEnvelope struct {
	DeviceID  string         `json:"deviceId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// CommandEnvelope instructs a device to act.
// Topic: devices/{deviceId}/commands
// QoS: 1, Retained: No
type CommandEnvelope struct {
	// CommandID is unique per SendCommand call, even for identical arguments.
	CommandID   string         `json:"commandId"`
	DeviceID    string         `json:"deviceId"`
	CommandType string         `json:"commandType"`
	Parameters  map[string]any `json:"parameters"`
	Timestamp   time.Time      `json:"timestamp"`

	// ExpiresAt is when a device should discard the command unexecuted.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the command is past its expiry at now.
func (c *CommandEnvelope) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// AlertEnvelope announces a system condition.
// Topic: system/alerts (also maintenance/{deviceId}/alerts, security/events)
// QoS: 1, Retained: Yes
type AlertEnvelope struct {
	AlertID   string    `json:"alertId"`
	AlertType string    `json:"alertType"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`

	// DeviceID is set for device-scoped alerts such as maintenance.
	DeviceID string `json:"deviceId,omitempty"`
}

// Device status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusEnvelope is a device's retained availability.
// Topic: devices/{deviceId}/status
// QoS: 1, Retained: Yes
type StatusEnvelope struct {
	DeviceID  string    `json:"deviceId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RuleExecutionEnvelope reports an automation rule that fired.
// Topic: automation/rules/executed
// QoS: 1, Retained: No
type RuleExecutionEnvelope struct {
	RuleID    string         `json:"ruleId"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
}
