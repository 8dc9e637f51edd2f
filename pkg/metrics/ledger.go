package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger operation outcomes and the current pool total.
type LedgerMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	poolTotal prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Duration of ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operation_success",
		Help: "Successful ledger operations.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operation_failure",
		Help: "Failed ledger operations.",
	}, []string{"operation"})
	poolTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_pool_total_cents",
		Help: "Latest pool total in cents.",
	})
	reg.MustRegister(duration, success, failure, poolTotal)
	return &LedgerMetrics{
		duration:  duration,
		success:   success,
		failure:   failure,
		poolTotal: poolTotal,
	}
}

// Observe records one finished operation. A nil err counts as success.
func (m *LedgerMetrics) Observe(operation string, started time.Time, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op := normalizeLabel(operation)
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.failure.WithLabelValues(op).Inc()
		return
	}
	m.success.WithLabelValues(op).Inc()
}

// SetPoolTotal publishes the latest total.
func (m *LedgerMetrics) SetPoolTotal(cents int64) {
	if m == nil || m.poolTotal == nil {
		return
	}
	m.poolTotal.Set(float64(cents))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
