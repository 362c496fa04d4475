package mqtt

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Topics provides builders for gateway MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Each top-level category comes from config.TopicsConfig so a site can move
// its traffic under a different root without code changes:
//
//	topics := mqtt.NewTopics(cfg.Topics)
//	telemetry := topics.DeviceTelemetry("thermo-1")
//	// Returns: "devices/thermo-1/telemetry"
//
// The zero value uses the default prefixes.
type Topics struct {
	prefixes config.TopicsConfig
}

// NewTopics creates a topic builder. Empty prefixes fall back to defaults.
func NewTopics(prefixes config.TopicsConfig) Topics {
	def := config.DefaultTopics()
	return Topics{prefixes: config.TopicsConfig{
		Devices:     cmp.Or(prefixes.Devices, def.Devices),
		System:      cmp.Or(prefixes.System, def.System),
		Energy:      cmp.Or(prefixes.Energy, def.Energy),
		Automation:  cmp.Or(prefixes.Automation, def.Automation),
		Maintenance: cmp.Or(prefixes.Maintenance, def.Maintenance),
		Security:    cmp.Or(prefixes.Security, def.Security),
		Weather:     cmp.Or(prefixes.Weather, def.Weather),
	}}
}

func (t Topics) p() config.TopicsConfig {
	if t.prefixes.Devices == "" {
		return NewTopics(t.prefixes).prefixes
	}
	return t.prefixes
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceTelemetry returns the topic for telemetry published by or for a device.
//
// Example: devices/thermo-1/telemetry
func (t Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", t.p().Devices, deviceID)
}

// DeviceCommands returns the topic commands for a device are sent on.
//
// Example: devices/thermo-1/commands
func (t Topics) DeviceCommands(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", t.p().Devices, deviceID)
}

// DeviceStatus returns the retained online/offline topic for a device.
//
// Example: devices/thermo-1/status
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", t.p().Devices, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemAlerts returns the fixed, retained alert topic.
//
// Example: system/alerts
func (t Topics) SystemAlerts() string {
	return t.p().System + "/alerts"
}

// SystemHealth returns the topic carrying the gateway's own status and LWT.
//
// Example: system/health
func (t Topics) SystemHealth() string {
	return t.p().System + "/health"
}

// =============================================================================
// Domain Topics
// =============================================================================

// EnergyData returns the topic for a device's energy readings.
//
// Example: energy/meter-1/data
func (t Topics) EnergyData(deviceID string) string {
	return fmt.Sprintf("%s/%s/data", t.p().Energy, deviceID)
}

// AutomationRulesExecuted returns the topic announcing executed automation rules.
func (t Topics) AutomationRulesExecuted() string {
	return t.p().Automation + "/rules/executed"
}

// MaintenanceAlerts returns the topic for a device's maintenance alerts.
//
// Example: maintenance/pump-2/alerts
func (t Topics) MaintenanceAlerts(deviceID string) string {
	return fmt.Sprintf("%s/%s/alerts", t.p().Maintenance, deviceID)
}

// SecurityEvents returns the security event topic.
func (t Topics) SecurityEvents() string {
	return t.p().Security + "/events"
}

// WeatherData returns the weather feed topic.
func (t Topics) WeatherData() string {
	return t.p().Weather + "/data"
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllDeviceStatus returns a wildcard pattern for every device status topic.
//
// Example: devices/+/status
func (t Topics) AllDeviceStatus() string {
	return t.DeviceStatus(singleLevelWild)
}

// AllDeviceTelemetry returns a wildcard pattern for every device's telemetry.
func (t Topics) AllDeviceTelemetry() string {
	return t.DeviceTelemetry(singleLevelWild)
}

// AllDeviceCommands returns a wildcard pattern for every device's commands.
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommands(singleLevelWild)
}

// AllDevices returns a pattern matching everything under the devices root.
//
// Example: devices/#
func (t Topics) AllDevices() string {
	return t.p().Devices + topicSeparator + multiLevelWild
}

// DeviceIDFromTopic extracts the device id from a devices/{id}/... topic.
// It returns false for topics outside the devices root.
func (t Topics) DeviceIDFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.p().Devices+topicSeparator)
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rest, topicSeparator)
	if id == "" {
		return "", false
	}
	return id, true
}
