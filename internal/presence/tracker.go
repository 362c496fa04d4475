package presence

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/messaging"
)

// statusQoS is the subscription QoS for device status topics.
const statusQoS = 1

// Source is the part of *mqtt.Manager the Tracker depends on.
type Source interface {
	Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) error
	Observe(fn func(mqtt.ConnectionEvent)) (cancel func())
	Topics() mqtt.Topics
	IsConnected() bool
}

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceStatus is the last status seen for one device.
type DeviceStatus struct {
	DeviceID  string
	Online    bool
	UpdatedAt time.Time
}

// Tracker keeps the gateway's and every device's online flag.
//
// All public methods are thread-safe.
type Tracker struct {
	source Source
	logger Logger
	now    func() time.Time

	mu            sync.RWMutex
	gatewayOnline bool
	devices       map[string]DeviceStatus

	onChange func(DeviceStatus)
	cancel   func()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithChangeHook calls fn whenever a device's online flag changes.
// fn runs on the message dispatch goroutine and must not block.
func WithChangeHook(fn func(DeviceStatus)) Option {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// NewTracker registers a Tracker with source. If source is already
// connected the status subscription is made immediately.
func NewTracker(source Source, opts ...Option) *Tracker {
	t := &Tracker{
		source:  source,
		logger:  noopLogger{},
		now:     time.Now,
		devices: make(map[string]DeviceStatus),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.cancel = source.Observe(t.handleEvent)
	if source.IsConnected() {
		t.handleEvent(mqtt.ConnectionEvent{Kind: mqtt.EventConnected, At: t.now()})
	}
	return t
}

// Close stops observing connection events.
func (t *Tracker) Close() {
	t.cancel()
}

func (t *Tracker) handleEvent(ev mqtt.ConnectionEvent) {
	switch ev.Kind {
	case mqtt.EventConnected:
		t.setGateway(true)
		pattern := t.source.Topics().AllDeviceStatus()
		if err := t.source.Subscribe(pattern, statusQoS, t.handleStatus); err != nil {
			t.logger.Error("failed to subscribe to device status", "pattern", pattern, "error", err)
		}
	case mqtt.EventConnectionLost, mqtt.EventDisconnected:
		t.setGateway(false)
	}
}

func (t *Tracker) setGateway(online bool) {
	t.mu.Lock()
	t.gatewayOnline = online
	t.mu.Unlock()
	t.logger.Debug("gateway presence changed", "online", online)
}

// handleStatus applies one devices/{id}/status message. An empty payload
// (a cleared retained message) forgets the device.
func (t *Tracker) handleStatus(topic string, payload []byte) error {
	deviceID, ok := t.source.Topics().DeviceIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("status topic %q has no device id", topic)
	}

	if len(payload) == 0 {
		t.mu.Lock()
		delete(t.devices, deviceID)
		t.mu.Unlock()
		t.logger.Debug("device status cleared", "device_id", deviceID)
		return nil
	}

	online, ts, err := parseStatus(payload)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}
	if ts.IsZero() {
		ts = t.now().UTC()
	}

	status := DeviceStatus{DeviceID: deviceID, Online: online, UpdatedAt: ts}
	t.mu.Lock()
	previous, known := t.devices[deviceID]
	t.devices[deviceID] = status
	t.mu.Unlock()

	if known && previous.Online == online {
		return nil
	}
	t.logger.Info("device presence changed", "device_id", deviceID, "online", online)
	if t.onChange != nil {
		t.onChange(status)
	}
	return nil
}

// parseStatus accepts a status envelope, a JSON string, or a bare
// "online"/"offline" word.
func parseStatus(payload []byte) (online bool, ts time.Time, err error) {
	raw := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(raw, "{"):
		var env messaging.StatusEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return false, time.Time{}, fmt.Errorf("decoding status: %w", err)
		}
		raw, ts = env.Status, env.Timestamp
	case strings.HasPrefix(raw, `"`):
		if err := json.Unmarshal([]byte(raw), &raw); err != nil {
			return false, time.Time{}, fmt.Errorf("decoding status: %w", err)
		}
	}
	raw = strings.TrimSpace(raw)

	switch strings.ToLower(raw) {
	case messaging.StatusOnline:
		return true, ts, nil
	case messaging.StatusOffline:
		return false, ts, nil
	default:
		return false, time.Time{}, fmt.Errorf("unknown status %q", raw)
	}
}

// GatewayOnline reports whether the gateway is connected to the broker.
func (t *Tracker) GatewayOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gatewayOnline
}

// DeviceOnline reports whether deviceID last announced itself online.
// Unknown devices are offline.
func (t *Tracker) DeviceOnline(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.devices[deviceID].Online
}

// Device returns the last status seen for deviceID.
func (t *Tracker) Device(deviceID string) (DeviceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.devices[deviceID]
	return status, ok
}

// Devices returns every known device status, sorted by id.
func (t *Tracker) Devices() []DeviceStatus {
	t.mu.RLock()
	out := make([]DeviceStatus, 0, len(t.devices))
	for _, status := range t.devices {
		out = append(out, status)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b DeviceStatus) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return out
}

// OnlineCount returns how many known devices are online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, status := range t.devices {
		if status.Online {
			n++
		}
	}
	return n
}
