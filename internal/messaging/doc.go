// Package messaging builds the gateway's JSON envelopes and publishes them.
//
// The Builder is what device services call: PublishTelemetry, SendCommand
// and PublishAlert cover the core flows; device status, energy, weather,
// maintenance, security and automation helpers follow the same pattern.
// Every envelope is published with QoS 1. Alerts and status are retained so
// late subscribers see the latest value.
//
//	b := messaging.NewBuilder(mgr, mgr.Topics(),
//	    messaging.WithTelemetrySink(influx),
//	    messaging.WithJournal(journalRepo),
//	)
//	cmd, err := b.SendCommand(ctx, "thermo-1", "set_temperature", map[string]any{"target": 21.5})
package messaging
