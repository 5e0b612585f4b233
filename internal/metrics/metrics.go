// Package metrics provides the prometheus collectors shared by applications,
// hubs and bridges. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xpl"

// Bridge directions used as label values.
const (
	Inbound  = "inbound"  // outer to inner
	Outbound = "outbound" // inner to outer
)

// Metrics holds every collector.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	invalidMessages  *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	heartbeatsSent   *prometheus.CounterVec
	hubClients       prometheus.Gauge
	hubEvictions     prometheus.Counter
	hubRelayed       prometheus.Counter
	bridgeForwarded  *prometheus.CounterVec
	bridgeDropped    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg yields
// unregistered collectors, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "messages_received_total",
			Help:      "Valid xPL messages received",
		}, []string{"app"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "messages_sent_total",
			Help:      "xPL messages sent",
		}, []string{"app"}),
		invalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "invalid_messages_total",
			Help:      "Datagrams rejected by validation",
		}, []string{"app"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "transport_errors_total",
			Help:      "Send and receive failures",
		}, []string{"app", "op"}),
		heartbeatsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats sent by local devices",
		}, []string{"schema"}),
		hubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Peers currently tracked by the hub",
		}),
		hubEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Peers removed after exceeding their silence allowance",
		}),
		hubRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "relayed_total",
			Help:      "Datagrams relayed to peers",
		}),
		bridgeForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "forwarded_total",
			Help:      "Messages forwarded across the bridge",
		}, []string{"direction"}),
		bridgeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "hop_dropped_total",
			Help:      "Messages dropped at the hop ceiling",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesReceived, m.messagesSent, m.invalidMessages, m.transportErrors,
			m.heartbeatsSent, m.hubClients, m.hubEvictions, m.hubRelayed,
			m.bridgeForwarded, m.bridgeDropped,
		)
	}
	return m
}

// Received counts a valid inbound message.
func (m *Metrics) Received(app string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(app).Inc()
	}
}

// Sent counts an outbound message.
func (m *Metrics) Sent(app string) {
	if m != nil {
		m.messagesSent.WithLabelValues(app).Inc()
	}
}

// Invalid counts a datagram rejected by validation.
func (m *Metrics) Invalid(app string) {
	if m != nil {
		m.invalidMessages.WithLabelValues(app).Inc()
	}
}

// TransportError counts a failed send or receive.
func (m *Metrics) TransportError(app, op string) {
	if m != nil {
		m.transportErrors.WithLabelValues(app, op).Inc()
	}
}

// HeartbeatSent counts a heartbeat by schema.
func (m *Metrics) HeartbeatSent(schema string) {
	if m != nil {
		m.heartbeatsSent.WithLabelValues(schema).Inc()
	}
}

// HubClients sets the tracked peer count.
func (m *Metrics) HubClients(n int) {
	if m != nil {
		m.hubClients.Set(float64(n))
	}
}

// HubEvicted counts evicted peers.
func (m *Metrics) HubEvicted(n int) {
	if m != nil {
		m.hubEvictions.Add(float64(n))
	}
}

// HubRelayed counts datagrams relayed to peers.
func (m *Metrics) HubRelayed(n int) {
	if m != nil {
		m.hubRelayed.Add(float64(n))
	}
}

// BridgeForwarded counts a forwarded message.
func (m *Metrics) BridgeForwarded(direction string) {
	if m != nil {
		m.bridgeForwarded.WithLabelValues(direction).Inc()
	}
}

// BridgeDropped counts a message stopped by the hop ceiling.
func (m *Metrics) BridgeDropped(direction string) {
	if m != nil {
		m.bridgeDropped.WithLabelValues(direction).Inc()
	}
}
