// Package metrics holds the Prometheus collectors for the chat service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classchat"

type Metrics struct {
	registry *prometheus.Registry

	MessagesPersisted prometheus.Counter
	LivePushes        *prometheus.CounterVec
	OnlineConnections prometheus.Gauge
	InboundEvents     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages written to durable storage.",
		}),
		LivePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_pushes_total",
			Help:      "Live event pushes by event name and outcome.",
		}, []string{"event", "outcome"}),
		OnlineConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Live connections currently registered.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_inbound_events_total",
			Help:      "Inbound gateway events by event name.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesPersisted,
		m.LivePushes,
		m.OnlineConnections,
		m.InboundEvents,
	)
	return m
}

// Handler serves this instance's registry only.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

func (m *Metrics) ObservePush(event, outcome string) {
	if m == nil {
		return
	}
	m.LivePushes.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObservePersisted() {
	if m == nil {
		return
	}
	m.MessagesPersisted.Inc()
}

func (m *Metrics) ObserveInbound(event string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.OnlineConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.OnlineConnections.Dec()
}
