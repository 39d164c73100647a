package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics counts gateway operations that succeeded remotely but
// could not be committed locally.
type ReconciliationMetrics struct {
	required *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation counter on reg.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	required := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mealrun_reconciliation_required_total",
		Help: "Gateway side effects that need manual reconciliation.",
	}, []string{"operation"})
	reg.MustRegister(required)
	return &ReconciliationMetrics{required: required}
}

// IncRequired bumps the counter for operation.
func (r *ReconciliationMetrics) IncRequired(operation string) {
	if r == nil || r.required == nil {
		return
	}
	r.required.WithLabelValues(normalizeLabel(operation)).Inc()
}
