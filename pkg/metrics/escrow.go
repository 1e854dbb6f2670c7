package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts gateway webhook reconciliation outcomes.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates prometheus.Counter
	stale      prometheus.Counter
	badSig     prometheus.Counter
}

// NewWebhookMetrics registers webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_received",
		Help: "Gateway webhook events received by type.",
	}, []string{"event_type"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_webhook_duplicate",
		Help: "Gateway webhook events dropped by the idempotency guard.",
	})
	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_webhook_stale",
		Help: "Gateway webhook events acknowledged without effect.",
	})
	badSig := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_webhook_signature_failure",
		Help: "Gateway webhook requests rejected for a bad signature.",
	})
	reg.MustRegister(received, duplicates, stale, badSig)
	return &WebhookMetrics{
		received:   received,
		duplicates: duplicates,
		stale:      stale,
		badSig:     badSig,
	}
}

func (w *WebhookMetrics) IncReceived(eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (w *WebhookMetrics) IncDuplicate() {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.Inc()
}

func (w *WebhookMetrics) IncStale() {
	if w == nil || w.stale == nil {
		return
	}
	w.stale.Inc()
}

func (w *WebhookMetrics) IncSignatureFailure() {
	if w == nil || w.badSig == nil {
		return
	}
	w.badSig.Inc()
}

// SettlementMetrics counts escrow release outcomes across OTP, auto-settle
// and admin resolution paths.
type SettlementMetrics struct {
	released *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewSettlementMetrics registers settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_released",
		Help: "Escrow transactions released by settlement path.",
	}, []string{"path"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_payout_failure",
		Help: "Payout attempts that failed by settlement path.",
	}, []string{"path"})
	reg.MustRegister(released, failures)
	return &SettlementMetrics{released: released, failures: failures}
}

func (s *SettlementMetrics) IncReleased(path string) {
	if s == nil || s.released == nil {
		return
	}
	s.released.WithLabelValues(normalizeLabel(path)).Inc()
}

func (s *SettlementMetrics) IncPayoutFailure(path string) {
	if s == nil || s.failures == nil {
		return
	}
	s.failures.WithLabelValues(normalizeLabel(path)).Inc()
}
