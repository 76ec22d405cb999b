// Package metrics exposes Prometheus collectors for realtime channels.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realtime_channel"

// Metrics groups the collectors shared by every channel of a process.
type Metrics struct {
	statusTransitions *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	sent              *prometheus.CounterVec
	received          *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	buffered          *prometheus.CounterVec
	evicted           *prometheus.CounterVec
	drained           *prometheus.CounterVec
	connected         *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions by channel and target status.",
		}, []string{"channel", "status"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}, []string{"channel"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Envelopes handed to the transport, including drained ones.",
		}, []string{"channel"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages published to subscribers.",
		}, []string{"channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded as malformed.",
		}, []string{"channel"}),
		buffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_buffered_total",
			Help:      "Outgoing messages queued while offline.",
		}, []string{"channel"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_evicted_total",
			Help:      "Buffered messages dropped because the buffer was full.",
		}, []string{"channel"}),
		drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_drained_total",
			Help:      "Buffered messages re-sent after reconnecting.",
		}, []string{"channel"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the channel is connected.",
		}, []string{"channel"}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.statusTransitions, m.reconnects, m.sent, m.received, m.dropped,
		m.buffered, m.evicted, m.drained, m.connected,
	}
}

// Status records a transition and keeps the connected gauge in sync.
func (m *Metrics) Status(channel, status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(channel, status).Inc()
	if status == "connected" {
		m.connected.WithLabelValues(channel).Set(1)
	} else {
		m.connected.WithLabelValues(channel).Set(0)
	}
}

func (m *Metrics) Reconnect(channel string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(channel).Inc()
}

func (m *Metrics) Sent(channel string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(channel).Inc()
}

func (m *Metrics) Received(channel string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(channel).Inc()
}

func (m *Metrics) Dropped(channel string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channel).Inc()
}

func (m *Metrics) Buffered(channel string) {
	if m == nil {
		return
	}
	m.buffered.WithLabelValues(channel).Inc()
}

func (m *Metrics) Evicted(channel string, n int) {
	if m == nil {
		return
	}
	m.evicted.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) Drained(channel string, n int) {
	if m == nil {
		return
	}
	m.drained.WithLabelValues(channel).Add(float64(n))
}
