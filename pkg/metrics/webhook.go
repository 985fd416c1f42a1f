package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics records webhook intake outcomes.
type WebhookMetrics struct {
	received          *prometheus.CounterVec
	signatureFailures prometheus.Counter
}

// NewWebhookMetrics registers webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "Webhook deliveries accepted after signature verification.",
	}, []string{"type"})
	signatureFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for a bad signature.",
	})
	reg.MustRegister(received, signatureFailures)
	return &WebhookMetrics{
		received:          received,
		signatureFailures: signatureFailures,
	}
}

// IncReceived increments the received counter for the event type.
func (w *WebhookMetrics) IncReceived(eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncSignatureFailure increments the rejected-signature counter.
func (w *WebhookMetrics) IncSignatureFailure() {
	if w == nil || w.signatureFailures == nil {
		return
	}
	w.signatureFailures.Inc()
}
