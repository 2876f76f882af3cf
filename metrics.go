package registrar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registrar's Prometheus counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

// NewMetrics registers the registrar counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_registrar_attempts_total",
			Help: "Registration HTTP attempts by outcome.",
		}, []string{"outcome"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_registrar_submissions_total",
			Help: "Completed token submissions by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}
