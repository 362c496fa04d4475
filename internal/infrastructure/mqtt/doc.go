// Package mqtt provides the gateway's broker connection.
//
// This package manages:
//   - A single durable connection with an explicit state machine
//     (disconnected, connecting, connected, reconnecting, stopping)
//   - Background reconnection on a fixed delay with an attempt budget
//   - Publishing through a bounded outbound queue with QoS retry
//   - Pattern subscriptions with MQTT wildcard routing
//   - Last Will and Testament plus a retained health status
//   - Connection event observers and Prometheus metrics
//
// # Architecture
//
// The Manager sits between gateway services and a Transport. The production
// Transport wraps paho.mqtt.golang with its own reconnect logic switched off;
// tests substitute an in-memory Transport.
//
//	Builder / Tracker → Manager → Transport (paho) ↔ Broker ↔ Devices
//
// # Delivery
//
//   - Publish validates and enqueues; a single sender drains the queue in order
//   - QoS 0 is fire and forget; failed sends are dropped
//   - QoS 1/2 failures stay at the head of the queue and are retried after
//     reconnect, up to MaxRetryAttempts
//   - QoS 2 uses paho's four-step handshake
//
// # Routing
//
// Every inbound message is matched against all registered patterns with
// MatchTopic. Matching handlers run one after another on the transport's
// callback goroutine; a failing handler is logged and does not affect the
// others. Overlapping patterns can make the broker deliver a message more
// than once.
//
// # Usage
//
//	mgr := mqtt.NewManager(cfg.MQTT, mqtt.WithLogger(log), mqtt.WithTopics(mqtt.NewTopics(cfg.Topics)))
//	if res := mgr.Connect(ctx, 10*time.Second); !res.OK() {
//	    log.Warn("broker not reachable yet", "status", res.Status, "error", res.Err)
//	}
//	defer mgr.Disconnect()
//
//	err := mgr.Subscribe(mgr.Topics().AllDeviceStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Info("status", "topic", topic, "payload", string(payload))
//	        return nil
//	    })
package mqtt
