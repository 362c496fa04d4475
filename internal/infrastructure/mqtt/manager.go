package mqtt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// errStaleSession stops a reconnect loop whose session was ended by Disconnect.
var errStaleSession = errors.New("mqtt: session ended")

// Logger defines the logging interface used by the Manager.
// Compatible with logging.Logger and slog.Logger.
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

// Manager owns the single broker connection of the process.
//
// It is the connection manager, publisher and subscription router in one:
// Connect/Disconnect drive the connection state machine, Publish feeds the
// bounded outbound queue, and Subscribe/Unsubscribe maintain the pattern
// router that inbound messages are dispatched through.
//
// Construct one Manager at startup, pass it to whatever needs to publish or
// subscribe, and call Disconnect on shutdown.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect and Disconnect are serialised by a single mutex.
//   - Handlers run sequentially on the transport's callback goroutine.
type Manager struct {
	cfg          config.MQTTConfig
	topics       Topics
	transport    Transport
	logger       Logger
	metrics      *Metrics
	pollInterval time.Duration
	// reconnectDelay is the fixed wait between reconnect attempts.
	reconnectDelay time.Duration
	onHandlerErr   func(*HandlerError)
	factory        TransportFactory

	// connMu serialises Connect and Disconnect.
	connMu sync.Mutex

	stateMu sync.RWMutex
	state   ConnectionState
	// session is bumped by Disconnect so late attempt results are discarded.
	session    uint64
	loopCancel context.CancelFunc

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	queue        *outboundQueue
	senderCancel context.CancelFunc
	senderDone   chan struct{}

	observers    map[uint64]func(ConnectionEvent)
	nextObserver uint64
	observerMu   sync.RWMutex
	// eventMu keeps notifications in order across goroutines.
	eventMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransportFactory replaces the paho-backed transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(m *Manager) {
		m.factory = factory
	}
}

// WithLogger sets the logger for connection, publish and handler diagnostics.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records connection and queue metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTopics sets the topic builder used for the health topic and LWT.
func WithTopics(topics Topics) Option {
	return func(m *Manager) {
		m.topics = topics
	}
}

// WithPollInterval changes how often Connect checks for the Connected state.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithReconnectDelay overrides the configured wait between reconnect attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.reconnectDelay = delay
		}
	}
}

// WithHandlerErrorHook is called for every failed handler, after logging.
func WithHandlerErrorHook(hook func(*HandlerError)) Option {
	return func(m *Manager) {
		m.onHandlerErr = hook
	}
}

// NewManager creates a disconnected Manager for cfg. The configuration is
// copied; later changes to the caller's value have no effect.
func NewManager(cfg config.MQTTConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg,
		topics:         NewTopics(config.DefaultTopics()),
		logger:         noopLogger{},
		pollInterval:   defaultPollInterval,
		reconnectDelay: cmp.Or(cfg.ReconnectDelay(), defaultReconnectDelay),
		factory:        NewPahoTransport,
		state:          StateDisconnected,
		subscriptions:  make(map[string]subscription),
		queue:          newOutboundQueue(cfg.Queue.MaxPending, cfg.Queue.OverflowPolicy),
		observers:      make(map[uint64]func(ConnectionEvent)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.transport = m.factory(cfg, buildWill(m.topics.SystemHealth(), cfg.Broker.ClientID), TransportCallbacks{
		OnMessage:        m.dispatch,
		OnConnectionLost: m.handleConnectionLost,
	})

	return m
}

// attempt tracks one transport connection attempt started by Connect.
type attempt struct {
	done chan struct{}
	err  error
}

// Connect connects to the broker, waiting up to timeout for the Connected state.
//
// If the manager is already connected it returns immediately without touching
// the transport. Otherwise it starts a non-blocking connection attempt (or
// joins one already in flight) and polls the state every poll interval.
// Cancelling ctx ends the wait but not the attempt. A refused or timed out
// attempt is retried in the background when auto-reconnect is enabled.
//
// A non-positive timeout uses the configured connect timeout.
func (m *Manager) Connect(ctx context.Context, timeout time.Duration) ConnectResult {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if timeout <= 0 {
		timeout = m.cfg.ConnectTimeout()
		if timeout <= 0 {
			timeout = defaultConnectTimeout
		}
	}

	var a *attempt
	m.stateMu.Lock()
	switch m.state {
	case StateConnected:
		m.stateMu.Unlock()
		return ConnectResult{Status: ConnectStatusConnected}
	case StateDisconnected:
		m.state = StateConnecting
		session := m.session
		m.stateMu.Unlock()

		m.startSender()
		m.logger.Info("connecting to MQTT broker",
			"broker", m.cfg.BrokerAddress(),
			"client_id", m.cfg.Broker.ClientID,
		)
		a = m.startAttempt(session)
	default:
		// Connecting or Reconnecting: wait for the attempt already in flight.
		m.stateMu.Unlock()
	}

	return m.awaitConnected(ctx, timeout, a)
}

// awaitConnected polls until the manager is connected or the wait ends.
func (m *Manager) awaitConnected(ctx context.Context, timeout time.Duration, a *attempt) ConnectResult {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var done <-chan struct{}
	if a != nil {
		done = a.done
	}

	for {
		if m.State() == StateConnected {
			// Let our own attempt finish restoring subscriptions and
			// notifying observers before reporting success.
			if done != nil {
				<-done
			}
			return ConnectResult{Status: ConnectStatusConnected}
		}

		select {
		case <-ctx.Done():
			m.logger.Warn("MQTT connect wait cancelled", "error", ctx.Err())
			return ConnectResult{Status: ConnectStatusCancelled, Err: ctx.Err()}
		case <-deadline.C:
			m.logger.Warn("MQTT connect timed out",
				"broker", m.cfg.BrokerAddress(),
				"timeout", timeout,
				"state", m.State().String(),
			)
			return ConnectResult{
				Status: ConnectStatusTimedOut,
				Err:    fmt.Errorf("%w after %v", ErrConnectTimeout, timeout),
			}
		case <-done:
			if a.err != nil {
				return ConnectResult{Status: ConnectStatusTransportError, Err: a.err}
			}
			done = nil
		case <-ticker.C:
		}
	}
}

// startAttempt begins a transport connection attempt whose outcome is
// applied in the background.
func (m *Manager) startAttempt(session uint64) *attempt {
	a := &attempt{done: make(chan struct{})}
	result := m.transport.Connect()

	go func() {
		defer close(a.done)
		if err := <-result; err != nil {
			a.err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
			m.handleAttemptFailed(session, a.err)
			return
		}
		m.handleConnected(session)
	}()

	return a
}

// handleAttemptFailed moves a failed initial attempt to Reconnecting, or back
// to Disconnected when auto-reconnect is off.
func (m *Manager) handleAttemptFailed(session uint64, err error) {
	m.stateMu.Lock()
	if session != m.session || m.state != StateConnecting {
		m.stateMu.Unlock()
		return
	}
	reconnect := m.cfg.Reconnect.Enabled
	if reconnect {
		m.startReconnectLoopLocked(session)
	} else {
		m.state = StateDisconnected
	}
	m.stateMu.Unlock()

	m.logger.Error("MQTT connection attempt failed",
		"broker", m.cfg.BrokerAddress(),
		"error", err,
		"auto_reconnect", reconnect,
	)
}

// handleConnected applies a successful connection. It returns false when the
// session was ended by Disconnect while the attempt was in flight.
func (m *Manager) handleConnected(session uint64) bool {
	m.stateMu.Lock()
	if session != m.session || (m.state != StateConnecting && m.state != StateReconnecting) {
		// Only tear the late connection down if no newer session is using it.
		idle := m.state == StateDisconnected
		m.stateMu.Unlock()
		if idle {
			m.transport.Disconnect(0)
		}
		return false
	}
	m.state = StateConnected
	// The loop that produced this connection exits on its own; a later loss
	// must be free to start a new one.
	m.loopCancel = nil
	m.stateMu.Unlock()

	m.metrics.setConnected(true)
	m.logger.Info("MQTT connected",
		"broker", m.cfg.BrokerAddress(),
		"client_id", m.cfg.Broker.ClientID,
	)

	m.restoreSubscriptions()
	m.publishHealth(HealthOnline, "")
	m.queue.signal()

	// Skipped if the link dropped again during restore.
	m.notifyIf(ConnectionEvent{Kind: EventConnected, ClientID: m.cfg.Broker.ClientID, At: time.Now()},
		func(state ConnectionState, current uint64) bool {
			return state == StateConnected && current == session
		})
	return true
}

// handleConnectionLost is the transport callback for unexpected loss.
func (m *Manager) handleConnectionLost(err error) {
	m.stateMu.Lock()
	if m.state != StateConnected {
		m.stateMu.Unlock()
		return
	}
	reconnect := m.cfg.Reconnect.Enabled
	if reconnect {
		m.startReconnectLoopLocked(m.session)
	} else {
		m.state = StateDisconnected
	}
	m.stateMu.Unlock()

	m.metrics.setConnected(false)
	m.metrics.incConnectionsLost()
	m.logger.Warn("MQTT connection lost", "error", err, "auto_reconnect", reconnect)

	m.notifyIf(ConnectionEvent{Kind: EventConnectionLost, ClientID: m.cfg.Broker.ClientID, Err: err, At: time.Now()},
		func(state ConnectionState, _ uint64) bool {
			return state != StateConnected
		})
}

// startReconnectLoopLocked enters Reconnecting and starts the retry loop
// unless one is already running. stateMu must be held.
func (m *Manager) startReconnectLoopLocked(session uint64) {
	m.state = StateReconnecting
	if m.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	go m.reconnectLoop(ctx, cancel, session)
}

// reconnectLoop retries the connection on a fixed delay until it succeeds,
// the attempt budget runs out, or Disconnect cancels ctx.
func (m *Manager) reconnectLoop(ctx context.Context, cancel context.CancelFunc, session uint64) {
	defer cancel()

	delay := m.reconnectDelay
	var policy backoff.BackOff = backoff.NewConstantBackOff(delay)
	if maxAttempts := m.cfg.Reconnect.MaxAttempts; maxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(maxAttempts-1)) //nolint:gosec // maxAttempts > 0
	}

	// The loop is entered right after a failure, so wait before the first try.
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	attempts := 0
	operation := func() error {
		attempts++
		m.metrics.incReconnectAttempts()
		m.logger.Info("reconnecting to MQTT broker",
			"broker", m.cfg.BrokerAddress(),
			"attempt", attempts,
		)

		if err := <-m.transport.Connect(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		if !m.handleConnected(session) {
			return backoff.Permanent(errStaleSession)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("MQTT reconnect attempt failed", "error", err, "retry_in", next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if err == nil || ctx.Err() != nil || errors.Is(err, errStaleSession) {
		return
	}

	m.stateMu.Lock()
	if session == m.session && m.state == StateReconnecting {
		m.state = StateDisconnected
		m.loopCancel = nil
	}
	m.stateMu.Unlock()

	m.logger.Error("MQTT reconnect gave up",
		"broker", m.cfg.BrokerAddress(),
		"attempts", attempts,
		"error", err,
	)
}

// Disconnect gracefully closes the broker connection.
//
// It stops any reconnect loop and the outbound sender, publishes a graceful
// offline status when connected, disconnects the transport and clears every
// subscription. Calling it when already disconnected is a no-op.
func (m *Manager) Disconnect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.stateMu.Lock()
	if m.state == StateDisconnected && m.loopCancel == nil && m.senderCancel == nil {
		m.stateMu.Unlock()
		m.clearSubscriptions()
		return
	}
	wasConnected := m.state == StateConnected
	m.state = StateStopping
	m.session++
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	m.stateMu.Unlock()

	m.stopSender()

	if wasConnected {
		m.publishHealth(HealthOffline, "graceful_shutdown")
	}
	m.transport.Disconnect(defaultDisconnectQuiesce)
	m.clearSubscriptions()

	m.setState(StateDisconnected)
	m.metrics.setConnected(false)
	m.logger.Info("MQTT disconnected", "pending_messages", m.queue.len())

	if wasConnected {
		m.notify(ConnectionEvent{Kind: EventDisconnected, ClientID: m.cfg.Broker.ClientID, At: time.Now()})
	}
}

// publishHealth sends the retained gateway status directly, bypassing the queue.
func (m *Manager) publishHealth(status, reason string) {
	payload := buildHealthPayload(status, m.cfg.Broker.ClientID, reason)
	if err := m.transport.Publish(m.topics.SystemHealth(), 1, true, payload); err != nil {
		m.logger.Warn("failed to publish health status", "status", status, "error", err)
	}
}

// HealthCheck verifies the MQTT connection is alive.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(state ConnectionState) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()
}

// IsConnected reports whether the manager is Connected and the transport agrees.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected && m.transport.IsConnected()
}

// ClientID returns the MQTT client identifier.
func (m *Manager) ClientID() string {
	return m.cfg.Broker.ClientID
}

// Topics returns the topic builder the manager was configured with.
func (m *Manager) Topics() Topics {
	return m.topics
}

// Observe registers fn for connection events and returns a function that
// removes it. Events are delivered in order, outside of the manager's locks;
// fn must not call Connect or Disconnect synchronously.
func (m *Manager) Observe(fn func(ConnectionEvent)) (cancel func()) {
	m.observerMu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.observerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.observerMu.Lock()
			delete(m.observers, id)
			m.observerMu.Unlock()
		})
	}
}

// notify delivers ev to every observer, recovering observer panics.
func (m *Manager) notify(ev ConnectionEvent) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	m.deliver(ev)
}

// notifyIf delivers ev only if current still holds for the connection state
// and session. The check runs under eventMu, so an event that has gone stale
// is dropped instead of reaching observers after a newer one.
func (m *Manager) notifyIf(ev ConnectionEvent, current func(ConnectionState, uint64) bool) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.stateMu.RLock()
	ok := current(m.state, m.session)
	m.stateMu.RUnlock()
	if !ok {
		m.logger.Debug("stale MQTT connection event skipped", "event", ev.Kind)
		return
	}
	m.deliver(ev)
}

// deliver runs every observer for ev. eventMu must be held.
func (m *Manager) deliver(ev ConnectionEvent) {
	m.observerMu.RLock()
	observers := make([]func(ConnectionEvent), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.observerMu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("MQTT connection observer panic recovered", "event", ev.Kind, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}
