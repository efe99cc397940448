package verify

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes link-flow counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	links    *prometheus.CounterVec
	verifies *prometheus.CounterVec
	swept    prometheus.Counter
}

// NewMetrics registers the verification metrics on reg. store backs the
// active-sessions gauge and may be nil.
func NewMetrics(reg prometheus.Registerer, store Store) *Metrics {
	m := &Metrics{
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "verify",
			Name:      "link_total",
			Help:      "Link requests by outcome.",
		}, []string{"outcome"}),
		verifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "verify",
			Name:      "attempt_total",
			Help:      "Verify attempts by outcome.",
		}, []string{"outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "verify",
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the reaper.",
		}),
	}

	reg.MustRegister(m.links, m.verifies, m.swept)
	if store != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "evacom",
			Subsystem: "verify",
			Name:      "sessions",
			Help:      "Sessions currently held in memory.",
		}, func() float64 { return float64(store.Len()) }))
	}
	return m
}

func (m *Metrics) link(outcome string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(outcome).Inc()
}

func (m *Metrics) verify(outcome string) {
	if m == nil {
		return
	}
	m.verifies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) sweep(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
