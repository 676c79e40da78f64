package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts coordinator outcomes. Register it once per registry.
type Metrics struct {
	Operations *prometheus.CounterVec
	Conflicts  *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acasinha",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result.",
		}, []string{"operation", "result"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acasinha",
			Subsystem: "ledger",
			Name:      "transaction_conflicts_total",
			Help:      "Optimistic commit conflicts seen before retrying.",
		}, []string{"operation"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "acasinha",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of ledger operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Conflicts, m.Duration)
	}
	return m
}

func (m *Metrics) observe(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, resultLabel(err)).Inc()
	m.Duration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) conflict(operation string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(operation).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isConflict(err):
		return "conflict"
	case isStoreFailure(err):
		return "unavailable"
	default:
		return "rejected"
	}
}
