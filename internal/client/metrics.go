package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the client's Prometheus instruments.
type Metrics struct {
	connected       prometheus.Gauge
	connections     prometheus.Counter
	connectFailures prometheus.Counter
	timeouts        prometheus.Counter
	malformed       prometheus.Counter
	pushes          *prometheus.CounterVec
	roundTrip       prometheus.Histogram
	tier            prometheus.Gauge
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "electrumlink_connected",
			Help: "1 while a server connection is established.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumlink_connections_total",
			Help: "Connections established, including reconnects.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumlink_connect_failures_total",
			Help: "Connection attempts that failed before the handshake.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumlink_request_timeouts_total",
			Help: "Requests that got no reply within the current timeout tier.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumlink_malformed_frames_total",
			Help: "Inbound frames that could not be decoded.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "electrumlink_pushes_total",
			Help: "Subscription pushes delivered, by method.",
		}, []string{"method"}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "electrumlink_round_trip_seconds",
			Help:    "Round-trip time of correlated requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		tier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "electrumlink_timeout_seconds",
			Help: "Current request timeout tier in seconds.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connected, m.connections, m.connectFailures, m.timeouts,
			m.malformed, m.pushes, m.roundTrip, m.tier,
		)
	}
	return m
}

func (m *Metrics) setConnected(up bool) {
	if up {
		m.connected.Set(1)
		m.connections.Inc()
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) observeRoundTrip(rtt time.Duration) {
	m.roundTrip.Observe(rtt.Seconds())
}

func (m *Metrics) setTimeout(d time.Duration) {
	m.tier.Set(d.Seconds())
}
