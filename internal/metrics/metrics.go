// Package metrics instruments the progress client.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives progress client events. Transport labels are
// "socket" or "polling".
type Collector interface {
	SubscriptionStarted()
	SubscriptionEnded(reason string)
	MessageDelivered(transport string)
	MessageDropped(reason string)
	ReconnectScheduled()
	HeartbeatTimeout()
	FallbackToPolling(reason string)
	PollRequest(outcome string)
}

// Nop discards every event.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) SubscriptionStarted()     {}
func (Nop) SubscriptionEnded(string) {}
func (Nop) MessageDelivered(string)  {}
func (Nop) MessageDropped(string)    {}
func (Nop) ReconnectScheduled()      {}
func (Nop) HeartbeatTimeout()        {}
func (Nop) FallbackToPolling(string) {}
func (Nop) PollRequest(string)       {}

// Prometheus is a Collector backed by client_golang. Metrics are
// registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	subscriptionsStarted prometheus.Counter
	subscriptionsActive  prometheus.Gauge
	subscriptionsEnded   *prometheus.CounterVec
	messagesDelivered    *prometheus.CounterVec
	messagesDropped      *prometheus.CounterVec
	reconnects           prometheus.Counter
	heartbeatTimeouts    prometheus.Counter
	fallbacks            *prometheus.CounterVec
	pollRequests         *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers with reg (prometheus.DefaultRegisterer when nil)
// under namespace ("jobwatch" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "jobwatch"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.subscriptionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "subscriptions_started_total",
			Help:      "Total job progress subscriptions started.",
		})
		p.subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      "subscriptions_active",
			Help:      "Job progress subscriptions currently live.",
		})
		p.subscriptionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "subscriptions_ended_total",
			Help:      "Total subscriptions torn down, by reason.",
		}, []string{"reason"})
		p.messagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "messages_delivered_total",
			Help:      "Progress messages handed to subscribers, by transport.",
		}, []string{"transport"})
		p.messagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound payloads discarded, by reason.",
		}, []string{"reason"})
		p.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Socket reconnect attempts scheduled.",
		})
		p.heartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "socket",
			Name:      "heartbeat_timeouts_total",
			Help:      "Sockets closed for missing pongs.",
		})
		p.fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "fallbacks_total",
			Help:      "Switches from socket to polling, by reason.",
		}, []string{"reason"})
		p.pollRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "poll",
			Name:      "requests_total",
			Help:      "Status poll ticks, by outcome.",
		}, []string{"outcome"})

		p.subscriptionsStarted = register(p.reg, p.subscriptionsStarted)
		p.subscriptionsActive = register(p.reg, p.subscriptionsActive)
		p.subscriptionsEnded = register(p.reg, p.subscriptionsEnded)
		p.messagesDelivered = register(p.reg, p.messagesDelivered)
		p.messagesDropped = register(p.reg, p.messagesDropped)
		p.reconnects = register(p.reg, p.reconnects)
		p.heartbeatTimeouts = register(p.reg, p.heartbeatTimeouts)
		p.fallbacks = register(p.reg, p.fallbacks)
		p.pollRequests = register(p.reg, p.pollRequests)
	})
}

// register adds c to reg, or returns the collector already registered
// under the same descriptor so several clients can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (p *Prometheus) SubscriptionStarted() {
	p.ensureRegistered()
	p.subscriptionsStarted.Inc()
	p.subscriptionsActive.Inc()
}

func (p *Prometheus) SubscriptionEnded(reason string) {
	p.ensureRegistered()
	p.subscriptionsActive.Dec()
	p.subscriptionsEnded.WithLabelValues(reason).Inc()
}

func (p *Prometheus) MessageDelivered(transport string) {
	p.ensureRegistered()
	p.messagesDelivered.WithLabelValues(transport).Inc()
}

func (p *Prometheus) MessageDropped(reason string) {
	p.ensureRegistered()
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) ReconnectScheduled() {
	p.ensureRegistered()
	p.reconnects.Inc()
}

func (p *Prometheus) HeartbeatTimeout() {
	p.ensureRegistered()
	p.heartbeatTimeouts.Inc()
}

func (p *Prometheus) FallbackToPolling(reason string) {
	p.ensureRegistered()
	p.fallbacks.WithLabelValues(reason).Inc()
}

func (p *Prometheus) PollRequest(outcome string) {
	p.ensureRegistered()
	p.pollRequests.WithLabelValues(outcome).Inc()
}
