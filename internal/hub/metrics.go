package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Connections prometheus.Gauge
	Sessions    prometheus.Gauge
	Relayed     prometheus.Counter
	Dropped     *prometheus.CounterVec
	Handshakes  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "keyrelay_open_connections",
			Help: "Number of open transport connections",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "keyrelay_online_sessions",
			Help: "Number of joined users",
		}),
		Relayed: f.NewCounter(prometheus.CounterOpts{
			Name: "keyrelay_relayed_messages_total",
			Help: "Number of chat messages delivered to a receiver",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyrelay_dropped_events_total",
			Help: "Number of events dropped because a precondition was not met",
		}, []string{"event", "reason"}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyrelay_handshakes_total",
			Help: "Number of key exchange steps by outcome",
		}, []string{"outcome"}),
	}
}
