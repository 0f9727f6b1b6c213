// Package metrics holds the prometheus collectors for the messaging client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat"

// Metrics groups every collector the client updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesSent        *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	Disconnects       prometheus.Counter
	MessagesSubmitted prometheus.Counter
	SubmitRejected    *prometheus.CounterVec
	SendFailures      prometheus.Counter
	HistoryRequests   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Passing nil
// leaves them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Frames written to the realtime channel by event.",
		}, []string{"event"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Frames read from the realtime channel by event.",
		}, []string{"event"}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "disconnects_total",
			Help:      "Transport losses and failed dials.",
		}),
		MessagesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "submitted_total",
			Help:      "Messages accepted by the send pipeline.",
		}),
		SubmitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "rejected_total",
			Help:      "Submissions rejected locally by error code.",
		}, []string{"code"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "failed_total",
			Help:      "send_failed events received.",
		}),
		HistoryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "requests_total",
			Help:      "REST calls to the history service by operation and outcome.",
		}, []string{"op", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "breaker_open",
			Help:      "1 while the named circuit breaker is not closed.",
		}, []string{"name"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesSent, m.FramesReceived, m.Disconnects,
			m.MessagesSubmitted, m.SubmitRejected, m.SendFailures,
			m.HistoryRequests, m.BreakerState,
		)
	}
	return m
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(event string) {
	if m != nil {
		m.FramesSent.WithLabelValues(event).Inc()
	}
}

// FrameReceived counts an inbound frame.
func (m *Metrics) FrameReceived(event string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(event).Inc()
	}
}

// Disconnected counts a transport loss.
func (m *Metrics) Disconnected() {
	if m != nil {
		m.Disconnects.Inc()
	}
}

// Submitted counts an accepted submission.
func (m *Metrics) Submitted() {
	if m != nil {
		m.MessagesSubmitted.Inc()
	}
}

// Rejected counts a locally rejected submission.
func (m *Metrics) Rejected(code string) {
	if m != nil {
		m.SubmitRejected.WithLabelValues(code).Inc()
	}
}

// SendFailed counts a server-side rejection.
func (m *Metrics) SendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

// HistoryRequest counts one REST call.
func (m *Metrics) HistoryRequest(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.HistoryRequests.WithLabelValues(op, outcome).Inc()
}

// Breaker records the state of a circuit breaker.
func (m *Metrics) Breaker(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
