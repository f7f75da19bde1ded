package prioritize

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the prioritization subsystem.
type Metrics struct {
	ReasonCallsTotal *prometheus.CounterVec
	ReasonDuration   *prometheus.HistogramVec
	FallbacksTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns prioritization metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReasonCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_reason_calls_total",
			Help: "Total reasoning backend calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		ReasonDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_reason_call_duration_seconds",
			Help:    "Duration of reasoning backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"op"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_deterministic_fallbacks_total",
			Help: "Total deterministic fallbacks by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.ReasonCallsTotal,
		m.ReasonDuration,
		m.FallbacksTotal,
	)
	return m
}

// Hooks returns an engine Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnReason: func(op string, duration float64, failed bool) {
			outcome := "success"
			if failed {
				outcome = "error"
			}
			m.ReasonCallsTotal.WithLabelValues(op, outcome).Inc()
			m.ReasonDuration.WithLabelValues(op).Observe(duration)
		},
		OnFallback: func(op string) {
			m.FallbacksTotal.WithLabelValues(op).Inc()
		},
	}
}
