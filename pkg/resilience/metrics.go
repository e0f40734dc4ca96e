package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every executor in a
// Group, labeled by dependency.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	circuit   *prometheus.GaugeVec
	occupancy *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which unit tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_dependency_attempts_total",
			Help: "Call attempts per dependency by outcome.",
		}, []string{"dependency", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_dependency_retries_total",
			Help: "Retry admissions per dependency by budget decision.",
		}, []string{"dependency", "decision"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_dependency_fallbacks_total",
			Help: "Fallback substitutions per dependency.",
		}, []string{"dependency"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_dependency_circuit_state",
			Help: "Circuit state per dependency (0 closed, 1 open, 2 half-open).",
		}, []string{"dependency"}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_dependency_bulkhead_occupancy",
			Help: "In-flight calls per dependency bulkhead.",
		}, []string{"dependency"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.retries, m.fallbacks, m.circuit, m.occupancy)
	}
	return m
}

func (m *Metrics) recordAttempt(dependency string, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	m.attempts.WithLabelValues(dependency, outcome).Inc()
}

func (m *Metrics) recordRetryDecision(dependency string, admitted bool) {
	if m == nil {
		return
	}
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	m.retries.WithLabelValues(dependency, decision).Inc()
}

func (m *Metrics) recordFallback(dependency string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(dependency).Inc()
}

func (m *Metrics) setCircuitState(dependency string, state BreakerState) {
	if m == nil {
		return
	}
	m.circuit.WithLabelValues(dependency).Set(float64(state))
}

func (m *Metrics) setOccupancy(dependency string, occupancy int) {
	if m == nil {
		return
	}
	m.occupancy.WithLabelValues(dependency).Set(float64(occupancy))
}
