package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/journal"
)

const (
	// envelopeQoS is used for every structured envelope.
	envelopeQoS = 1

	// CommandTTL is how long a command stays valid after it is sent.
	CommandTTL = 5 * time.Minute

	// DefaultSource identifies the gateway in alert and rule envelopes.
	DefaultSource = "graylogic-gateway"
)

// Publisher is the subset of *mqtt.Manager the Builder needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TelemetrySink receives every telemetry reading that was published.
// Implementations must not block.
type TelemetrySink interface {
	WriteTelemetry(deviceID string, data map[string]any, ts time.Time)
}

// Journal records sent commands and alerts.
type Journal interface {
	Record(ctx context.Context, entry *journal.Entry) error
}

// Logger defines the logging interface used by the Builder.
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

// Builder turns domain calls into JSON envelopes and publishes them.
type Builder struct {
	pub     Publisher
	topics  mqtt.Topics
	source  string
	sink    TelemetrySink
	journal Journal
	logger  Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithSource sets the source field of alert and rule envelopes.
func WithSource(source string) Option {
	return func(b *Builder) {
		if source != "" {
			b.source = source
		}
	}
}

// WithTelemetrySink forwards published telemetry to sink.
func WithTelemetrySink(sink TelemetrySink) Option {
	return func(b *Builder) {
		b.sink = sink
	}
}

// WithJournal records commands and alerts in j.
func WithJournal(j Journal) Option {
	return func(b *Builder) {
		b.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator overrides command and alert id generation.
func WithIDGenerator(newID func() string) Option {
	return func(b *Builder) {
		if newID != nil {
			b.newID = newID
		}
	}
}

// NewBuilder creates a Builder publishing through pub.
func NewBuilder(pub Publisher, topics mqtt.Topics, opts ...Option) *Builder {
	b := &Builder{
		pub:    pub,
		topics: topics,
		source: DefaultSource,
		logger: noopLogger{},
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishTelemetry publishes a device reading on devices/{deviceID}/telemetry
// and forwards it to the telemetry sink.
func (b *Builder) PublishTelemetry(ctx context.Context, deviceID string, data map[string]any) error {
	env, err := b.telemetry(ctx, deviceID, data)
	if err != nil {
		return err
	}
	if err := b.publish(b.topics.DeviceTelemetry(deviceID), env, false); err != nil {
		return fmt.Errorf("telemetry for %s: %w", deviceID, err)
	}

	if b.sink != nil {
		b.sink.WriteTelemetry(deviceID, data, env.Timestamp)
	}
	return nil
}

// PublishEnergyData publishes a meter reading on energy/{deviceID}/data.
func (b *Builder) PublishEnergyData(ctx context.Context, deviceID string, data map[string]any) error {
	env, err := b.telemetry(ctx, deviceID, data)
	if err != nil {
		return err
	}
	if err := b.publish(b.topics.EnergyData(deviceID), env, false); err != nil {
		return fmt.Errorf("energy data for %s: %w", deviceID, err)
	}
	return nil
}

// PublishWeatherData publishes a weather observation on weather/data.
func (b *Builder) PublishWeatherData(ctx context.Context, stationID string, data map[string]any) error {
	env, err := b.telemetry(ctx, stationID, data)
	if err != nil {
		return err
	}
	if err := b.publish(b.topics.WeatherData(), env, true); err != nil {
		return fmt.Errorf("weather data: %w", err)
	}
	return nil
}

func (b *Builder) telemetry(ctx context.Context, deviceID string, data map[string]any) (*TelemetryEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: data is required", ErrValidation)
	}
	return &TelemetryEnvelope{
		DeviceID:  deviceID,
		Timestamp: b.now().UTC(),
		Data:      data,
	}, nil
}

// SendCommand publishes a command on devices/{deviceID}/commands. Every call
// gets a fresh commandId and expires CommandTTL after it is sent.
func (b *Builder) SendCommand(ctx context.Context, deviceID, commandType string, params map[string]any) (*CommandEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(commandType) == "" {
		return nil, fmt.Errorf("%w: command type is required", ErrValidation)
	}
	if params == nil {
		params = map[string]any{}
	}

	now := b.now().UTC()
	env := &CommandEnvelope{
		CommandID:   b.newID(),
		DeviceID:    deviceID,
		CommandType: commandType,
		Parameters:  params,
		Timestamp:   now,
		ExpiresAt:   now.Add(CommandTTL),
	}

	topic := b.topics.DeviceCommands(deviceID)
	payload, err := b.publishPayload(topic, env, false)
	if err != nil {
		return nil, fmt.Errorf("command %s for %s: %w", commandType, deviceID, err)
	}

	b.logger.Info("command sent",
		"command_id", env.CommandID,
		"device_id", deviceID,
		"command_type", commandType,
	)
	b.record(ctx, &journal.Entry{
		Kind:      journal.KindCommand,
		MessageID: env.CommandID,
		DeviceID:  deviceID,
		Topic:     topic,
		Payload:   string(payload),
		Source:    b.source,
		CreatedAt: now,
	})
	return env, nil
}

// PublishAlert publishes a retained alert on system/alerts. An empty
// severity means SeverityInfo.
func (b *Builder) PublishAlert(ctx context.Context, alertType, message string, severity Severity) (*AlertEnvelope, error) {
	return b.alert(ctx, b.topics.SystemAlerts(), "", alertType, message, severity)
}

// PublishMaintenanceAlert publishes a retained alert on maintenance/{deviceID}/alerts.
func (b *Builder) PublishMaintenanceAlert(ctx context.Context, deviceID, alertType, message string, severity Severity) (*AlertEnvelope, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}
	return b.alert(ctx, b.topics.MaintenanceAlerts(deviceID), deviceID, alertType, message, severity)
}

// PublishSecurityEvent publishes a retained alert on security/events.
func (b *Builder) PublishSecurityEvent(ctx context.Context, eventType, message string, severity Severity) (*AlertEnvelope, error) {
	return b.alert(ctx, b.topics.SecurityEvents(), "", eventType, message, severity)
}

func (b *Builder) alert(ctx context.Context, topic, deviceID, alertType, message string, severity Severity) (*AlertEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(alertType) == "" {
		return nil, fmt.Errorf("%w: alert type is required", ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: alert message is required", ErrValidation)
	}
	if severity == "" {
		severity = SeverityInfo
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}

	now := b.now().UTC()
	env := &AlertEnvelope{
		AlertID:   b.newID(),
		AlertType: alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: now,
		Source:    b.source,
		DeviceID:  deviceID,
	}

	payload, err := b.publishPayload(topic, env, true)
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", alertType, err)
	}

	b.logger.Info("alert published",
		"alert_id", env.AlertID,
		"alert_type", alertType,
		"severity", string(severity),
		"topic", topic,
	)
	b.record(ctx, &journal.Entry{
		Kind:      journal.KindAlert,
		MessageID: env.AlertID,
		DeviceID:  deviceID,
		Topic:     topic,
		Payload:   string(payload),
		Source:    b.source,
		CreatedAt: now,
	})
	return env, nil
}

// PublishDeviceStatus publishes a device's retained online/offline status.
func (b *Builder) PublishDeviceStatus(ctx context.Context, deviceID string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	status := StatusOffline
	if online {
		status = StatusOnline
	}
	env := &StatusEnvelope{
		DeviceID:  deviceID,
		Status:    status,
		Timestamp: b.now().UTC(),
	}
	if err := b.publish(b.topics.DeviceStatus(deviceID), env, true); err != nil {
		return fmt.Errorf("status for %s: %w", deviceID, err)
	}
	return nil
}

// PublishRuleExecuted announces an automation rule that fired.
func (b *Builder) PublishRuleExecuted(ctx context.Context, ruleID string, details map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(ruleID) == "" {
		return fmt.Errorf("%w: rule id is required", ErrValidation)
	}

	env := &RuleExecutionEnvelope{
		RuleID:    ruleID,
		Timestamp: b.now().UTC(),
		Source:    b.source,
		Details:   details,
	}
	if err := b.publish(b.topics.AutomationRulesExecuted(), env, false); err != nil {
		return fmt.Errorf("rule %s: %w", ruleID, err)
	}
	return nil
}

func (b *Builder) publish(topic string, env any, retained bool) error {
	_, err := b.publishPayload(topic, env, retained)
	return err
}

// publishPayload marshals env and publishes it, returning the payload sent.
func (b *Builder) publishPayload(topic string, env any, retained bool) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %w", ErrValidation, err)
	}
	if err := b.pub.Publish(topic, payload, envelopeQoS, retained); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return payload, nil
}

// record writes a journal entry. The message is already out, so a journal
// failure is logged rather than returned.
func (b *Builder) record(ctx context.Context, entry *journal.Entry) {
	if b.journal == nil {
		return
	}
	if err := b.journal.Record(ctx, entry); err != nil {
		b.logger.Warn("failed to journal message",
			"kind", entry.Kind,
			"message_id", entry.MessageID,
			"error", err,
		)
	}
}

// validateDeviceID requires a non-empty id usable as a single topic level.
func validateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if strings.ContainsAny(deviceID, "/+#\x00") {
		return fmt.Errorf("%w: device id %q contains a topic separator or wildcard", ErrValidation, deviceID)
	}
	return nil
}
