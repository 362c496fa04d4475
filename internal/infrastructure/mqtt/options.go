package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds Connect when neither the caller nor the config sets one.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 * time.Millisecond

	// defaultKeepAlive is used when the config leaves keep-alive unset.
	defaultKeepAlive = 60 * time.Second

	// defaultReconnectDelay is used when the config leaves the reconnect delay unset.
	defaultReconnectDelay = 5 * time.Second

	// defaultPollInterval is how often Connect checks the connection state.
	defaultPollInterval = 100 * time.Millisecond

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Health statuses published on the system health topic.
const (
	HealthOnline  = "online"
	HealthOffline = "offline"
)

// HealthEnvelope is the retained gateway status on the system health topic.
// The broker publishes the "unexpected_disconnect" variant as the Last Will.
type HealthEnvelope struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"clientId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// buildClientOptions creates paho MQTT options from the gateway config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Clean session, keep-alive and connect timeout
//   - TLS configuration (if enabled)
//
// Auto-reconnect is left off: reconnection belongs to the Manager.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(cfg.Session.CleanSession)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Handlers run one message at a time, in arrival order
	opts.SetOrderMatters(true)

	connectTimeout := cfg.ConnectTimeout()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := cfg.KeepAlive()
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureWill registers the Last Will and Testament if one is set.
func configureWill(opts *pahomqtt.ClientOptions, will Will) {
	if will.Topic == "" {
		return
	}
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
}

// buildWill creates the offline LWT for clientID on the given health topic.
func buildWill(topic, clientID string) Will {
	return Will{
		Topic:    topic,
		Payload:  buildHealthPayload(HealthOffline, clientID, "unexpected_disconnect"),
		QoS:      1,
		Retained: true,
	}
}

// buildHealthPayload creates the JSON payload for health status messages.
func buildHealthPayload(status, clientID, reason string) []byte {
	payload, err := json.Marshal(HealthEnvelope{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		// HealthEnvelope only holds strings and a time; Marshal cannot fail.
		return []byte(`{"status":"` + status + `"}`)
	}
	return payload
}
