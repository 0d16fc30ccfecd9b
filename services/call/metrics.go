package call

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the call service's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	authFailures   prometheus.Counter
	joinAttempts   *prometheus.CounterVec
	signals        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "call_active_sessions",
			Help: "Number of authenticated socket sessions",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "call_auth_failures_total",
			Help: "Socket handshakes refused because the token did not verify",
		}),
		joinAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "call_join_attempts_total",
				Help: "Join requests by outcome",
			},
			[]string{"outcome"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "call_signals_total",
				Help: "Signaling payloads by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.activeSessions, m.authFailures, m.joinAttempts, m.signals)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) authFailed() {
	if m != nil {
		m.authFailures.Inc()
	}
}

// joinOutcome records "admitted" or the denial reason.
func (m *Metrics) joinOutcome(outcome string) {
	if m != nil {
		m.joinAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) signalRelayed() {
	if m != nil {
		m.signals.WithLabelValues("relayed").Inc()
	}
}

func (m *Metrics) signalDropped() {
	if m != nil {
		m.signals.WithLabelValues("dropped").Inc()
	}
}
