package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quotaguard"

type Metrics struct {
	QuotaDecisions    *prometheus.CounterVec
	RateDecisions     *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	CircuitOpen       *prometheus.GaugeVec
	GlobalThrottled   prometheus.Counter
	IdentityFallbacks prometheus.Counter
}

// New registers the ratelimit collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QuotaDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Daily quota decisions by quota level and outcome",
		}, []string{"level", "decision"}),
		RateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions by scope and outcome",
		}, []string{"scope", "decision"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Backing store failures by store",
		}, []string{"store"}),
		CircuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 while the named circuit breaker is open",
		}, []string{"name"}),
		GlobalThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "global_throttled_total",
			Help:      "Requests rejected by the per-instance global throttle",
		}),
		IdentityFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_identity_invalid_total",
			Help:      "Requests whose client identity fell back to an unparseable address",
		}),
	}
}

func decision(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (m *Metrics) RecordQuotaDecision(level string, allowed bool) {
	if m == nil {
		return
	}
	m.QuotaDecisions.WithLabelValues(level, decision(allowed)).Inc()
}

func (m *Metrics) RecordRateDecision(scope string, allowed bool) {
	if m == nil {
		return
	}
	m.RateDecisions.WithLabelValues(scope, decision(allowed)).Inc()
}

func (m *Metrics) RecordStoreError(store string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(store).Inc()
}

func (m *Metrics) SetCircuitOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(name).Set(v)
}

func (m *Metrics) IncrementGlobalThrottled() {
	if m == nil {
		return
	}
	m.GlobalThrottled.Inc()
}

func (m *Metrics) IncrementIdentityFallbacks() {
	if m == nil {
		return
	}
	m.IdentityFallbacks.Inc()
}
