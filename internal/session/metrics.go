package session

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	sessions      *prometheus.GaugeVec
	sent          *prometheus.CounterVec
	sendFailures  prometheus.Counter
	probeFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wahub_sessions",
			Help: "Registered sessions by lifecycle status.",
		}, []string{"status"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wahub_messages_sent_total",
			Help: "Messages handed to the backend successfully.",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wahub_send_failures_total",
			Help: "Send attempts the adapter did not complete.",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wahub_probe_failures_total",
			Help: "Connectivity probes that errored or timed out.",
		}),
	}

	reg.MustRegister(m.sessions, m.sent, m.sendFailures, m.probeFailures)
	return m
}

func (m *Metrics) moved(from, to Status) {
	if m == nil {
		return
	}
	if from != StatusNotStarted {
		m.sessions.WithLabelValues(from.String()).Dec()
	}
	if !to.Terminal() && to != StatusNotStarted {
		m.sessions.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) sentOne(kind string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(kind).Inc()
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) probeFailed() {
	if m == nil {
		return
	}
	m.probeFailures.Inc()
}
