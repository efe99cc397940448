package telegram

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts handled updates. A nil *Metrics records nothing.
type Metrics struct {
	updates *prometheus.CounterVec
	panics  prometheus.Counter
}

// NewMetrics registers the adapter metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Updates received by kind.",
		}, []string{"kind"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "telegram",
			Name:      "handler_panics_total",
			Help:      "Panics recovered in update handlers.",
		}),
	}
	reg.MustRegister(m.updates, m.panics)
	return m
}

func (m *Metrics) update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) recovered() {
	if m == nil {
		return
	}
	m.panics.Inc()
}
