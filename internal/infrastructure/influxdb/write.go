package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	// telemetryMeasurement is the measurement every telemetry point lands in.
	telemetryMeasurement = "device_telemetry"

	deviceIDTag = "device_id"
)

// WriteTelemetry records one telemetry reading for deviceID at ts.
//
// Scalar values (numbers, booleans, strings) become fields; nested objects,
// arrays and nulls are skipped. A reading with no usable fields is dropped.
// The write is non-blocking.
//
// Example:
//
//	client.WriteTelemetry("thermostat-01", map[string]any{"temperature": 21.5}, time.Now())
func (c *Client) WriteTelemetry(deviceID string, data map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point, ok := telemetryPoint(deviceID, data, ts)
	if !ok {
		return
	}
	c.writer.WritePoint(point)
}

// telemetryPoint builds the device_telemetry point for a reading.
func telemetryPoint(deviceID string, data map[string]any, ts time.Time) (*write.Point, bool) {
	fields := telemetryFields(data)
	if len(fields) == 0 {
		return nil, false
	}
	return write.NewPoint(
		telemetryMeasurement,
		map[string]string{deviceIDTag: deviceID},
		fields,
		ts,
	), true
}

// telemetryFields keeps the values line protocol can carry as fields.
func telemetryFields(data map[string]any) map[string]any {
	fields := make(map[string]any, len(data))
	for key, value := range data {
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, bool, string:
			fields[key] = v
		case json.Number:
			if i, err := v.Int64(); err == nil {
				fields[key] = i
			} else if f, err := v.Float64(); err == nil {
				fields[key] = f
			}
		}
	}
	return fields
}
