package mqtt

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "graylogic_gateway"
	metricsSubsystem = "mqtt"
)

// Drop reasons recorded on the dropped-messages counter.
const (
	dropReasonOverflow = "overflow"
	dropReasonQoS0     = "qos0_failed"
	dropReasonRetries  = "retries_exhausted"
)

// Metrics holds the Prometheus collectors for a Manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connected         prometheus.Gauge
	queueDepth        prometheus.Gauge
	published         prometheus.Counter
	dropped           *prometheus.CounterVec
	received          prometheus.Counter
	handlerErrors     prometheus.Counter
	reconnectAttempts prometheus.Counter
	connectionsLost   prometheus.Counter
}

// NewMetrics creates the gateway collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "connected",
			Help: "1 while the broker connection is established.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "queue_depth",
			Help: "Messages waiting in the outbound queue.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "messages_published_total",
			Help: "Messages delivered to the broker.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "messages_dropped_total",
			Help: "Outbound messages discarded before delivery, by reason.",
		}, []string{"reason"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "messages_received_total",
			Help: "Inbound messages dispatched to the router.",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "handler_errors_total",
			Help: "Subscription handlers that returned an error or panicked.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "reconnect_attempts_total",
			Help: "Background reconnection attempts.",
		}),
		connectionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "connections_lost_total",
			Help: "Unexpected broker disconnections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connected, m.queueDepth, m.published, m.dropped,
			m.received, m.handlerErrors, m.reconnectAttempts, m.connectionsLost,
		)
	}
	return m
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) incPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) incDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) incHandlerErrors() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

func (m *Metrics) incReconnectAttempts() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) incConnectionsLost() {
	if m != nil {
		m.connectionsLost.Inc()
	}
}
