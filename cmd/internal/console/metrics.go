package console

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts redeem outcomes. A nil *Metrics records nothing.
type Metrics struct {
	redeems *prometheus.CounterVec
	conns   prometheus.Gauge
}

// NewMetrics registers the console metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		redeems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evacom",
			Subsystem: "console",
			Name:      "redeem_total",
			Help:      "Access key redemptions by transport and outcome.",
		}, []string{"transport", "outcome"}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evacom",
			Subsystem: "console",
			Name:      "ws_connections",
			Help:      "Open console websocket connections.",
		}),
	}
	reg.MustRegister(m.redeems, m.conns)
	return m
}

func (m *Metrics) redeem(transport, outcome string) {
	if m == nil {
		return
	}
	m.redeems.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.conns.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.conns.Dec()
	}
}
