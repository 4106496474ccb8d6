package indi

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "astrobridge"
	subsystem = "indi"
)

// Metrics are the client counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	messagesIn        prometheus.Counter
	messagesOut       prometheus.Counter
	reconnects        prometheus.Counter
	keepaliveFailures prometheus.Counter
	blobRejects       prometheus.Counter
	phase             prometheus.Gauge
}

// NewMetrics creates the client metrics and registers them with reg when it
// is not nil. The labels distinguish several clients in one process.
func NewMetrics(reg prometheus.Registerer, server string) *Metrics {
	labels := prometheus.Labels{"server": server}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		messagesIn:        counter("messages_received_total", "Number of complete messages received."),
		messagesOut:       counter("messages_sent_total", "Number of messages sent."),
		reconnects:        counter("reconnect_attempts_total", "Number of reconnection attempts."),
		keepaliveFailures: counter("keepalive_failures_total", "Number of unanswered keepalive probes."),
		blobRejects:       counter("blob_rejects_total", "Number of BLOB payloads rejected by validation."),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "connection_phase",
			Help:        "Connection phase: 0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 reconnecting.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.messagesIn, m.messagesOut, m.reconnects, m.keepaliveFailures, m.blobRejects, m.phase)
	}
	return m
}

func (m *Metrics) incMessagesIn() {
	if m != nil {
		m.messagesIn.Inc()
	}
}

func (m *Metrics) incMessagesOut() {
	if m != nil {
		m.messagesOut.Inc()
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) incKeepaliveFailures() {
	if m != nil {
		m.keepaliveFailures.Inc()
	}
}

func (m *Metrics) incBlobRejects() {
	if m != nil {
		m.blobRejects.Inc()
	}
}

func (m *Metrics) setPhase(p Phase) {
	if m != nil {
		m.phase.Set(float64(p))
	}
}
