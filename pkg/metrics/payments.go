package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records gateway traffic and webhook reconciliation outcomes.
type PaymentMetrics struct {
	gatewayDuration *prometheus.HistogramVec
	transactions    *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Settled gateway transactions by provider, kind and result.",
	}, []string{"provider", "kind", "result"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook deliveries by provider and processing result.",
	}, []string{"provider", "result"})
	reg.MustRegister(gatewayDuration, transactions, webhookEvents)
	return &PaymentMetrics{
		gatewayDuration: gatewayDuration,
		transactions:    transactions,
		webhookEvents:   webhookEvents,
	}
}

// ObserveGatewayCall records the duration of a provider call.
func (p *PaymentMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration) {
	if p == nil || p.gatewayDuration == nil {
		return
	}
	p.gatewayDuration.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncTransaction counts a settled capture or refund.
func (p *PaymentMetrics) IncTransaction(provider, kind, result string) {
	if p == nil || p.transactions == nil {
		return
	}
	p.transactions.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind), normalizeLabel(result)).Inc()
}

// IncWebhookEvent counts a webhook delivery outcome. Result is one of
// processed, duplicate, ignored or failed.
func (p *PaymentMetrics) IncWebhookEvent(provider, result string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
