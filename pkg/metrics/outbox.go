package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutboxResultPublished = "published"
	OutboxResultRetry     = "retry"
	OutboxResultParked    = "parked"
)

// OutboxMetrics counts publish outcomes per event type.
type OutboxMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mealrun_outbox_publish_total",
		Help: "Outbox publish attempts by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(results)
	return &OutboxMetrics{results: results}
}

func (o *OutboxMetrics) Inc(eventType, result string) {
	if o == nil || o.results == nil {
		return
	}
	o.results.WithLabelValues(normalizeLabel(eventType), result).Inc()
}
