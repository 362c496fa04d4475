package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

var errBrokerDown = errors.New("broker down")

type sentMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker is an in-memory Transport. Publishing to a subscribed filter
// loops the message back through OnMessage, like a broker would.
type fakeBroker struct {
	mu sync.Mutex

	will      Will
	callbacks TransportCallbacks
	connected bool

	// connectErrs is consumed one per Connect call; nil entries or an empty
	// slice mean success.
	connectErrs  []error
	connectGate  chan struct{}
	connectCalls int
	disconnects  int

	subs         map[string]byte
	subscribeErr error
	subCalls     []string
	// afterSubscribe runs outside the lock once a Subscribe call returns.
	afterSubscribe func(filter string)

	publishFailures int
	published       []sentMessage
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]byte)}
}

func (f *fakeBroker) factory(_ config.MQTTConfig, will Will, callbacks TransportCallbacks) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.will = will
	f.callbacks = callbacks
	return f
}

func (f *fakeBroker) Connect() <-chan error {
	f.mu.Lock()
	f.connectCalls++
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	gate := f.connectGate
	f.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		if gate != nil {
			<-gate
		}
		if err == nil {
			f.mu.Lock()
			f.connected = true
			f.mu.Unlock()
		}
		result <- err
	}()
	return result
}

func (f *fakeBroker) Disconnect(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	clear(f.subs)
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrPublishFailed
	}
	if f.publishFailures > 0 {
		f.publishFailures--
		f.mu.Unlock()
		return ErrPublishFailed
	}
	f.published = append(f.published, sentMessage{topic: topic, qos: qos, retained: retained, payload: payload})
	deliver := false
	for filter := range f.subs {
		if MatchTopic(topic, filter) {
			deliver = true
			break
		}
	}
	onMessage := f.callbacks.OnMessage
	f.mu.Unlock()

	if deliver && onMessage != nil {
		onMessage(topic, payload)
	}
	return nil
}

func (f *fakeBroker) Subscribe(filter string, qos byte) error {
	f.mu.Lock()
	f.subCalls = append(f.subCalls, filter)
	hook := f.afterSubscribe
	err := f.subscribeErr
	if err == nil {
		f.subs[filter] = qos
	}
	f.mu.Unlock()

	if hook != nil {
		hook(filter)
	}
	return err
}

func (f *fakeBroker) onSubscribe(hook func(filter string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSubscribe = hook
}

func (f *fakeBroker) Unsubscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, filter)
	return nil
}

// drop simulates an unexpected connection loss.
func (f *fakeBroker) drop(err error) {
	f.mu.Lock()
	f.connected = false
	clear(f.subs)
	onLost := f.callbacks.OnConnectionLost
	f.mu.Unlock()

	onLost(err)
}

// inject delivers an inbound message as if the broker had routed it.
func (f *fakeBroker) inject(topic string, payload []byte) {
	f.mu.Lock()
	onMessage := f.callbacks.OnMessage
	f.mu.Unlock()
	onMessage(topic, payload)
}

func (f *fakeBroker) failConnects(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

func (f *fakeBroker) setPublishFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishFailures = n
}

func (f *fakeBroker) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeBroker) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeBroker) subscribed(filter string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[filter]
	return ok
}

// sent returns published messages, optionally filtered by topic.
func (f *fakeBroker) sent(topic string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, msg := range f.published {
		if topic == "" || msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func testMQTTConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Broker.Host = "localhost"
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = "gateway-test"
	cfg.Reconnect.Enabled = true
	cfg.Reconnect.MaxAttempts = 0
	cfg.Reconnect.MaxRetryAttempts = 3
	cfg.Queue.MaxPending = 100
	cfg.Queue.OverflowPolicy = config.OverflowDropOldest
	return cfg
}

// newTestManager builds a Manager on a fakeBroker with fast timings.
func newTestManager(t *testing.T, cfg config.MQTTConfig, opts ...Option) (*Manager, *fakeBroker) {
	t.Helper()

	broker := newFakeBroker()
	opts = append([]Option{
		WithTransportFactory(broker.factory),
		WithPollInterval(2 * time.Millisecond),
		WithReconnectDelay(10 * time.Millisecond),
	}, opts...)

	m := NewManager(cfg, opts...)
	t.Cleanup(m.Disconnect)
	return m, broker
}

// connectTestManager returns a Manager that is already Connected.
func connectTestManager(t *testing.T, opts ...Option) (*Manager, *fakeBroker) {
	t.Helper()

	m, broker := newTestManager(t, testMQTTConfig(), opts...)
	res := m.Connect(t.Context(), time.Second)
	if !res.OK() {
		t.Fatalf("Connect() = %+v, want connected", res)
	}
	return m, broker
}

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond
