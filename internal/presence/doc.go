// Package presence tracks which devices, and the gateway itself, are online.
//
// A Tracker observes the MQTT connection manager. Each time the manager
// connects it subscribes to the retained devices/+/status topics, so the
// broker replays the last known status of every device. Losing the
// connection marks the gateway offline but keeps the last device statuses,
// which are refreshed on the next connection.
package presence
