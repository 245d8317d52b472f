package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordQuotaDecision("entity", true)
	m.RecordQuotaDecision("entity", false)
	m.RecordQuotaDecision("entity", false)
	m.RecordRateDecision("burst", false)
	m.RecordStoreError("event_log")
	m.SetCircuitOpen("ratelimit", true)
	m.IncrementGlobalThrottled()
	m.IncrementIdentityFallbacks()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues("entity", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues("entity", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateDecisions.WithLabelValues("burst", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("event_log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("ratelimit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GlobalThrottled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentityFallbacks))

	m.SetCircuitOpen("ratelimit", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("ratelimit")))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordQuotaDecision("entity", true)
		m.RecordRateDecision("burst", true)
		m.RecordStoreError("window")
		m.SetCircuitOpen("x", true)
		m.IncrementGlobalThrottled()
		m.IncrementIdentityFallbacks()
	})
}
