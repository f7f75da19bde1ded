package syncer

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the sync pipeline.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	IntegrationsTotal *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
}

// NewMetrics registers and returns sync metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_sync_cycles_total",
			Help: "Total sync cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_sync_cycle_duration_seconds",
			Help:    "Duration of full sync cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~17m
		}),
		IntegrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_integration_syncs_total",
			Help: "Total per-integration sync passes by outcome.",
		}, []string{"integration", "outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_alerts_processed_total",
			Help: "Total alerts processed by integration and outcome.",
		}, []string{"integration", "outcome"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_notifications_total",
			Help: "Total notification events emitted by integration.",
		}, []string{"integration"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_events_dropped_total",
			Help: "Total events dropped for slow subscribers, by event name.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.IntegrationsTotal,
		m.AlertsTotal,
		m.NotificationsSent,
		m.EventsDropped,
	)
	return m
}

// Hooks returns orchestrator Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCycle: func(duration float64, failed bool) {
			m.CyclesTotal.WithLabelValues(outcomeLabel(failed)).Inc()
			m.CycleDuration.Observe(duration)
		},
		OnIntegration: func(name string, failed bool) {
			m.IntegrationsTotal.WithLabelValues(name, outcomeLabel(failed)).Inc()
		},
		OnAlert: func(integrationName, outcome string) {
			m.AlertsTotal.WithLabelValues(integrationName, outcome).Inc()
		},
		OnNotification: func(integrationName string) {
			m.NotificationsSent.WithLabelValues(integrationName).Inc()
		},
	}
}

// OnEventDrop is the broker drop hook.
func (m *Metrics) OnEventDrop(event string) {
	m.EventsDropped.WithLabelValues(event).Inc()
}

func outcomeLabel(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}
