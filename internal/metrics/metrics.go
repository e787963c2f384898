package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Payments records settlement, refund and publishing outcomes.
type Payments struct {
	settlements        *prometheus.CounterVec
	refundAttempts     *prometheus.CounterVec
	manualIntervention prometheus.Counter
	publishFailures    *prometheus.CounterVec
}

// NewPayments registers the collectors on reg. A nil reg yields a no-op
// recorder.
func NewPayments(reg prometheus.Registerer) *Payments {
	if reg == nil {
		return &Payments{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_settlements_total",
		Help: "Settlement decisions by payment method and outcome.",
	}, []string{"method", "outcome"})
	refundAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_refund_attempts_total",
		Help: "Refund attempts made by the cancellation handler, by outcome.",
	}, []string{"outcome"})
	manualIntervention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_refund_manual_intervention_total",
		Help: "Refunds that exhausted every attempt.",
	})
	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_event_publish_failures_total",
		Help: "Events that could not be published, by routing key.",
	}, []string{"routing_key"})
	reg.MustRegister(settlements, refundAttempts, manualIntervention, publishFailures)
	return &Payments{
		settlements:        settlements,
		refundAttempts:     refundAttempts,
		manualIntervention: manualIntervention,
		publishFailures:    publishFailures,
	}
}

func (p *Payments) Settled(method, outcome string) {
	if p == nil || p.settlements == nil {
		return
	}
	p.settlements.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

func (p *Payments) RefundAttempt(outcome string) {
	if p == nil || p.refundAttempts == nil {
		return
	}
	p.refundAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (p *Payments) ManualIntervention() {
	if p == nil || p.manualIntervention == nil {
		return
	}
	p.manualIntervention.Inc()
}

func (p *Payments) PublishFailed(routingKey string) {
	if p == nil || p.publishFailures == nil {
		return
	}
	p.publishFailures.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ManualInterventions reports how many refunds were given up on.
func (p *Payments) ManualInterventions() float64 {
	if p == nil || p.manualIntervention == nil {
		return 0
	}
	var m dto.Metric
	if err := p.manualIntervention.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
