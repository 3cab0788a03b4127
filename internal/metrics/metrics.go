// Package metrics exposes the client's operational counters on the default
// Prometheus registerer. All methods are nil-safe so wiring metrics stays
// optional in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EnvelopesIn      *prometheus.CounterVec
	EnvelopesOut     *prometheus.CounterVec
	EnvelopesDropped *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	DedupDropped      prometheus.Counter
	SignalsDropped    prometheus.Counter
	SyncPushes        prometheus.Counter
	ActiveCalls       prometheus.Gauge
	RoomPeers         prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		EnvelopesIn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "humanity_client_envelopes_in_total",
			Help: "Inbound relay envelopes by wire type.",
		}, []string{"type"}),
		EnvelopesOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "humanity_client_envelopes_out_total",
			Help: "Outbound relay envelopes by wire type.",
		}, []string{"type"}),
		EnvelopesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "humanity_client_envelopes_dropped_total",
			Help: "Inbound envelopes dropped before dispatch, by reason.",
		}, []string{"reason"}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "humanity_client_reconnect_attempts_total",
			Help: "Connection attempts made after a transport failure.",
		}),
		DedupDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "humanity_client_dedup_dropped_total",
			Help: "Chat deliveries suppressed by the dedup ledger.",
		}),
		SignalsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "humanity_client_signals_dropped_total",
			Help: "Call and room signals ignored as stale or mismatched.",
		}),
		SyncPushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "humanity_client_sync_pushes_total",
			Help: "Settings blob pushes sent to the relay.",
		}),
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "humanity_client_active_calls",
			Help: "1 while a one-to-one call is in progress.",
		}),
		RoomPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "humanity_client_room_peers",
			Help: "Peer connections held by the current room membership.",
		}),
	}
}

func (m *Metrics) IncIn(wireType string) {
	if m != nil {
		m.EnvelopesIn.WithLabelValues(wireType).Inc()
	}
}

func (m *Metrics) IncOut(wireType string) {
	if m != nil {
		m.EnvelopesOut.WithLabelValues(wireType).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.EnvelopesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncReconnect() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) IncDedupDropped() {
	if m != nil {
		m.DedupDropped.Inc()
	}
}

func (m *Metrics) IncSignalDropped() {
	if m != nil {
		m.SignalsDropped.Inc()
	}
}

func (m *Metrics) IncSyncPush() {
	if m != nil {
		m.SyncPushes.Inc()
	}
}

func (m *Metrics) SetActiveCalls(n float64) {
	if m != nil {
		m.ActiveCalls.Set(n)
	}
}

func (m *Metrics) SetRoomPeers(n float64) {
	if m != nil {
		m.RoomPeers.Set(n)
	}
}
