// Package metrics exposes the inspector's Prometheus surface: gauges for
// the ring buffers and connected-peer counts, counters for broadcast
// fan-out, auth decisions, and audit appends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the inspector runtime records, registered
// against its own prometheus.Registry so multiple Engine instances in the
// same process (as in tests) never collide on the default global registry.
type Registry struct {
	reg *prometheus.Registry

	WSPeers          prometheus.Gauge
	TelemetryStreams prometheus.Gauge
	PresenceUsers    prometheus.Gauge
	HistoryEntries   prometheus.Gauge
	TelemetryEntries prometheus.Gauge
	BroadcastFrames  *prometheus.CounterVec
	AuthDecisions    *prometheus.CounterVec
	AuditEntries     prometheus.Counter
	SessionsActive   prometheus.Gauge
}

// New constructs and registers a fresh Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		WSPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "ws_peers",
			Help:      "Number of currently connected WebSocket peers.",
		}),
		TelemetryStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "telemetry_streams",
			Help:      "Number of currently connected telemetry SSE subscribers.",
		}),
		PresenceUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "presence_users",
			Help:      "Number of tracked presence users.",
		}),
		HistoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "history_entries",
			Help:      "Number of entries currently buffered in the history ring (capacity 200).",
		}),
		TelemetryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "telemetry_entries",
			Help:      "Number of entries currently buffered in the telemetry ring (capacity 100).",
		}),
		BroadcastFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "broadcast_frames_total",
			Help:      "Frames handed to the broadcast hub, labeled by frame type.",
		}, []string{"type"}),
		AuthDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "auth_decisions_total",
			Help:      "RoleEnforcer decisions, labeled by via and outcome.",
		}, []string{"via", "outcome"}),
		AuditEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "audit_entries_total",
			Help:      "Audit log entries appended.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fortistate",
			Subsystem: "inspector",
			Name:      "sessions_active",
			Help:      "Number of currently valid sessions.",
		}),
	}

	reg.MustRegister(
		m.WSPeers, m.TelemetryStreams, m.PresenceUsers, m.HistoryEntries,
		m.TelemetryEntries, m.BroadcastFrames, m.AuthDecisions, m.AuditEntries,
		m.SessionsActive,
	)
	return m
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// RecordAuth increments the auth-decision counter for one evaluation.
func (m *Registry) RecordAuth(via string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.AuthDecisions.WithLabelValues(via, outcome).Inc()
}

// IncBroadcastFrame implements broadcast.MetricsSink.
func (m *Registry) IncBroadcastFrame(frameType string) {
	m.BroadcastFrames.WithLabelValues(frameType).Inc()
}

// IncAuditEntry implements audit.MetricsSink.
func (m *Registry) IncAuditEntry() {
	m.AuditEntries.Inc()
}

// Gauges bundles the live counts engine.go polls on an interval to keep the
// remaining state gauges (WSPeers, TelemetryStreams, PresenceUsers,
// HistoryEntries, TelemetryEntries, SessionsActive) current, since those
// reflect point-in-time map/ring sizes rather than discrete events.
type Gauges struct {
	WSPeers          int
	TelemetryStreams int
	PresenceUsers    int
	HistoryEntries   int
	TelemetryEntries int
	SessionsActive   int
}

// SetGauges updates every state gauge from one snapshot.
func (m *Registry) SetGauges(g Gauges) {
	m.WSPeers.Set(float64(g.WSPeers))
	m.TelemetryStreams.Set(float64(g.TelemetryStreams))
	m.PresenceUsers.Set(float64(g.PresenceUsers))
	m.HistoryEntries.Set(float64(g.HistoryEntries))
	m.TelemetryEntries.Set(float64(g.TelemetryEntries))
	m.SessionsActive.Set(float64(g.SessionsActive))
}
