// Package observability exposes Prometheus metrics for the session
// loop: applied and rejected events, reconciliation outcomes and the
// offline queue depth.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collectors a session reports into. A nil
// *Metrics is valid and records nothing, so metrics stay optional.
type Metrics struct {
	eventsApplied   *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg
// (prometheus.DefaultRegisterer is a fine choice).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_events_applied_total",
				Help: "Events validated, applied and logged",
			},
			[]string{"kind", "origin"},
		),
		eventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_events_rejected_total",
				Help: "Events rejected by precondition validation",
			},
			[]string{"kind"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_reconciliations_total",
				Help: "Reconciliation runs by outcome",
			},
			[]string{"outcome"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "canopy_offline_queue_depth",
				Help: "Locally originated events awaiting transmission",
			},
		),
	}
	reg.MustRegister(m.eventsApplied, m.eventsRejected, m.reconciliations, m.queueDepth)
	return m
}

// EventApplied records a successful apply.
func (m *Metrics) EventApplied(kind, origin string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind, origin).Inc()
}

// EventRejected records a precondition rejection.
func (m *Metrics) EventRejected(kind string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(kind).Inc()
}

// Reconciled records a reconciliation outcome.
func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// QueueDepth reports the current offline queue length.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
