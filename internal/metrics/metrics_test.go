package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDelivery("custom", "delivered")
	m.ObserveDelivery("custom", "delivered")
	m.ObserveDelivery("ai-text", "provider_error")
	m.SetScheduledPending(4)
	m.QuotaRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("custom", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ai-text", "provider_error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.scheduledPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRejections))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDelivery("custom", "delivered")
		m.SetScheduledPending(1)
		m.QuotaRejected()
		m.ProviderFailed("gemini")
		m.SetDialoguesActive(2)
	})
}
