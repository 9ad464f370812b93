// Package metrics exposes Prometheus instrumentation for the connection
// manager, router, and audit funnel. Collectors are registered against the
// default registry and served at /metrics via promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectedAgents tracks the number of agents currently in the
	// "online" state in the connection manager.
	ConnectedAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "onsembl",
		Subsystem: "connections",
		Name:      "agents_connected",
		Help:      "Number of agents currently connected and online.",
	})

	// ConnectedDashboards tracks the number of operator dashboard
	// connections currently attached to the control bus.
	ConnectedDashboards = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "onsembl",
		Subsystem: "connections",
		Name:      "dashboards_connected",
		Help:      "Number of dashboard connections currently attached.",
	})

	// QueueDepth reports the number of commands currently queued for a
	// given agent, labeled by priority tier.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "onsembl",
		Subsystem: "router",
		Name:      "queue_depth",
		Help:      "Number of commands queued per agent and priority tier.",
	}, []string{"agent_id", "priority"})

	// CommandsDispatched counts commands handed off to an agent for
	// execution.
	CommandsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onsembl",
		Subsystem: "router",
		Name:      "commands_dispatched_total",
		Help:      "Total number of commands dispatched to an agent.",
	}, []string{"agent_id"})

	// CommandsCompleted counts commands that finished, labeled by their
	// terminal status (completed, failed, interrupted, cancelled).
	CommandsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onsembl",
		Subsystem: "router",
		Name:      "commands_completed_total",
		Help:      "Total number of commands that reached a terminal status.",
	}, []string{"status"})

	// AuditWrites counts audit entries successfully persisted by the
	// funnel. It carries a kind label, but every write is counted under the
	// single label value "all".
	AuditWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onsembl",
		Subsystem: "audit",
		Name:      "writes_total",
		Help:      "Total number of audit entries persisted.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		ConnectedAgents,
		ConnectedDashboards,
		QueueDepth,
		CommandsDispatched,
		CommandsCompleted,
		AuditWrites,
	)
}
