package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Transport is the wire-level MQTT session the Manager drives.
//
// The Manager owns reconnection, so implementations must not reconnect on
// their own. Inbound messages for every subscribed filter are delivered to
// a single callback; routing to handlers happens in the Manager.
type Transport interface {
	// Connect starts a connection attempt without blocking. The returned
	// channel yields exactly one value: nil on success, or the failure.
	Connect() <-chan error

	// Disconnect closes the session, waiting up to quiesce for in-flight work.
	Disconnect(quiesce time.Duration)

	// IsConnected reports whether the session is currently up.
	IsConnected() bool

	// Publish sends one message and waits for the acknowledgement the QoS requires.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe issues a subscribe request for filter.
	Subscribe(filter string, qos byte) error

	// Unsubscribe issues an unsubscribe request for filter.
	Unsubscribe(filter string) error
}

// TransportCallbacks are invoked by a Transport for inbound traffic and
// unexpected connection loss. OnMessage is called sequentially.
type TransportCallbacks struct {
	OnMessage        func(topic string, payload []byte)
	OnConnectionLost func(err error)
}

// Will is the Last Will and Testament registered with the broker.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// TransportFactory builds the Transport for a Manager.
type TransportFactory func(cfg config.MQTTConfig, will Will, callbacks TransportCallbacks) Transport

// pahoTransport is the production Transport backed by paho.mqtt.golang.
type pahoTransport struct {
	client     pahomqtt.Client
	ackTimeout time.Duration
}

// NewPahoTransport builds a Transport on top of paho.mqtt.golang.
//
// Paho's own auto-reconnect and connect-retry are disabled; the Manager's
// reconnect loop decides when to try again. Message ordering is preserved so
// handlers see messages one at a time.
func NewPahoTransport(cfg config.MQTTConfig, will Will, callbacks TransportCallbacks) Transport {
	opts := buildClientOptions(cfg)
	configureWill(opts, will)

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if callbacks.OnMessage != nil {
			callbacks.OnMessage(msg.Topic(), msg.Payload())
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if callbacks.OnConnectionLost != nil {
			callbacks.OnConnectionLost(err)
		}
	})

	ackTimeout := cfg.PublishTimeout()
	if ackTimeout <= 0 {
		ackTimeout = defaultPublishTimeout
	}

	return &pahoTransport{
		client:     pahomqtt.NewClient(opts),
		ackTimeout: ackTimeout,
	}
}

func (p *pahoTransport) Connect() <-chan error {
	result := make(chan error, 1)
	token := p.client.Connect()
	go func() {
		<-token.Done()
		result <- token.Error()
	}()
	return result
}

func (p *pahoTransport) Disconnect(quiesce time.Duration) {
	p.client.Disconnect(uint(quiesce.Milliseconds())) //nolint:gosec // quiesce is a small positive duration
}

func (p *pahoTransport) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.ackTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers filter without a per-route callback so paho hands every
// match to the default publish handler.
func (p *pahoTransport) Subscribe(filter string, qos byte) error {
	token := p.client.Subscribe(filter, qos, nil)
	if !token.WaitTimeout(p.ackTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, p.ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (p *pahoTransport) Unsubscribe(filter string) error {
	token := p.client.Unsubscribe(filter)
	if !token.WaitTimeout(p.ackTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, p.ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}
