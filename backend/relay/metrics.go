package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ydoc"

// Metrics exports the traffic of the relay to prometheus.
//
// - implements peer.Metrics
type Metrics struct {
	registry       *prometheus.Registry
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	connections    prometheus.Gauge
	updates        prometheus.Counter
	updateBytes    prometheus.Counter
}

// NewMetrics registers the relay collectors on a registry of their own.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Sync frames received, by message type.",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_sent_total",
			Help:      "Sync frames queued for sending, by message type.",
		}, []string{"type"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open replica connections.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "updates_applied_total",
			Help:      "Updates and sync step 2 diffs applied to the relay document.",
		}),
		updateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "update_bytes_total",
			Help:      "Bytes of applied updates.",
		}),
	}
	m.registry.MustRegister(m.framesReceived, m.framesSent, m.connections, m.updates, m.updateBytes)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived(kind string) {
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(kind string) {
	m.framesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) PeerConnected() {
	m.connections.Inc()
}

func (m *Metrics) PeerDisconnected() {
	m.connections.Dec()
}

func (m *Metrics) UpdateApplied(size int) {
	m.updates.Inc()
	m.updateBytes.Add(float64(size))
}
