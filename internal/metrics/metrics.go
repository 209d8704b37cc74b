package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bot's prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	deliveries       *prometheus.CounterVec
	scheduledPending prometheus.Gauge
	quotaRejections  prometheus.Counter
	providerFailures *prometheus.CounterVec
	dialoguesActive  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedulerpost_deliveries_total",
				Help: "Post deliveries by content type and outcome",
			},
			[]string{"content_type", "outcome"},
		),
		scheduledPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schedulerpost_scheduled_pending",
				Help: "Scheduled posts waiting for their timer",
			},
		),
		quotaRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schedulerpost_quota_rejections_total",
				Help: "Publish attempts refused by the daily quota",
			},
		),
		providerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedulerpost_provider_failures_total",
				Help: "Content provider failures by provider",
			},
			[]string{"provider"},
		),
		dialoguesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schedulerpost_dialogues_active",
				Help: "Chats currently parked in a dialogue stage",
			},
		),
	}
	reg.MustRegister(m.deliveries, m.scheduledPending, m.quotaRejections, m.providerFailures, m.dialoguesActive)
	return m
}

func (m *Metrics) ObserveDelivery(contentType, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(contentType, outcome).Inc()
}

func (m *Metrics) SetScheduledPending(n int) {
	if m == nil {
		return
	}
	m.scheduledPending.Set(float64(n))
}

func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}

func (m *Metrics) ProviderFailed(provider string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) SetDialoguesActive(n int) {
	if m == nil {
		return
	}
	m.dialoguesActive.Set(float64(n))
}
