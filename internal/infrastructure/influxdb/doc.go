// Package influxdb mirrors published device telemetry into InfluxDB.
//
// The gateway hands every telemetry envelope it publishes to a sink; this
// package is that sink. Readings are written as points in the
// device_telemetry measurement, tagged with device_id, one field per scalar
// value in the reading.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	builder := messaging.NewBuilder(mgr, mgr.Topics(),
//	    messaging.WithTelemetrySink(client))
//
// # Error Handling
//
// Writes are batched and sent asynchronously. Failures surface through the
// SetOnError callback wrapped in ErrWriteFailed. Connect and HealthCheck
// return errors directly.
package influxdb
