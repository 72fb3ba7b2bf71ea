package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the Prometheus collectors the dispatcher and pool
// update as messages flow through them. A nil *Metrics disables all
// recording, so tests can construct a pool/dispatcher without a
// registry.
type Metrics struct {
	ActiveTransactions prometheus.Gauge
	Retransmissions     prometheus.Counter
	WorkerCount         prometheus.Gauge
	QueueDepth          *prometheus.GaugeVec
	MessagesReceived    *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coap",
			Name:      "active_transactions",
			Help:      "Number of transactions currently awaiting an ACK.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap",
			Name:      "retransmissions_total",
			Help:      "Total CON retransmissions performed across all transactions.",
		}),
		WorkerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coap",
			Name:      "workers",
			Help:      "Number of worker goroutines currently running.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coap",
			Name:      "worker_queue_depth",
			Help:      "Pending messages queued for each worker.",
		}, []string{"worker"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coap",
			Name:      "messages_received_total",
			Help:      "Inbound messages received, labelled by CoAP message type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.ActiveTransactions, m.Retransmissions, m.WorkerCount, m.QueueDepth, m.MessagesReceived)
	return m
}
