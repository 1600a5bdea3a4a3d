package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "wemeet_signaling"

// Drop reasons for inbound frames that never reach fan-out.
const (
	DropReasonMalformed        = "malformed"
	DropReasonUnknownType      = "unknown_type"
	DropReasonRateLimited      = "rate_limited"
	DropReasonBinaryFrame      = "binary_frame"
	DropReasonDispatcherClosed = "dispatcher_closed"
)

// Metrics owns the relay's Prometheus collectors and the registry they are
// exposed from. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	messages         *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	rooms            prometheus.Gauge
	memberships      prometheus.Gauge
}

// New creates a Metrics backed by a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the relay collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open signaling WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total signaling WebSocket connections accepted",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Signaling messages routed, by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound signaling frames discarded without fan-out, by reason",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound frames queued to a recipient",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound frames skipped because the recipient was closed or backed up",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}),
		memberships: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memberships",
			Help:      "Number of (room, participant) registrations",
		}),
	}
	reg.MustRegister(
		m.connections,
		m.connectionsTotal,
		m.messages,
		m.dropped,
		m.deliveries,
		m.deliveryFailures,
		m.rooms,
		m.memberships,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) MessageRouted(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// SetRoomStats matches the signature of room.Registry.OnChange.
func (m *Metrics) SetRoomStats(rooms, memberships int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.memberships.Set(float64(memberships))
}

// Dropped returns the current drop count for reason.
func (m *Metrics) Dropped(reason string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.dropped.WithLabelValues(reason))
}

func (m *Metrics) DeliveryFailures() float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.deliveryFailures)
}

func (m *Metrics) Connections() float64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.connections.Write(&out); err != nil {
		return 0
	}
	return out.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
