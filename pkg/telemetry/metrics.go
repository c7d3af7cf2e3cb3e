// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the orchestration core (SPEC_FULL §5 "Supplemented features"),
// grounded on kadirpekel-hector's pkg/observability: a single struct
// owning every CounterVec/GaugeVec/HistogramVec, registered against its
// own *prometheus.Registry so tests can construct throwaway instances
// without colliding with the process-wide default registerer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every gauge/counter the orchestration core emits: budget
// utilization, reclamation counts, message queue depth by priority, and
// workflow node state counts (SPEC_FULL §5).
type Metrics struct {
	registry *prometheus.Registry

	BudgetAllocated *prometheus.GaugeVec
	BudgetUsed      *prometheus.GaugeVec
	BudgetReserved  *prometheus.GaugeVec
	Reclamations    *prometheus.CounterVec

	AgentsSpawned     *prometheus.CounterVec
	AgentTransitions  *prometheus.CounterVec
	AgentDepth        prometheus.Histogram

	QueueDepth    *prometheus.GaugeVec
	MessagesSent  prometheus.Counter

	WorkflowNodeStates *prometheus.GaugeVec
	WorkflowOutcomes   *prometheus.CounterVec
}

// New constructs a Metrics instance registered on a fresh registry, with
// namespace "fleet" matching the module's own name the way hector's
// MetricsConfig.Namespace scopes its metric names.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.BudgetAllocated = registerGaugeVec(reg, "fleet", "budget", "allocated_tokens", "Tokens allocated per agent budget.", []string{"agent_id"})
	m.BudgetUsed = registerGaugeVec(reg, "fleet", "budget", "used_tokens", "Tokens consumed per agent budget.", []string{"agent_id"})
	m.BudgetReserved = registerGaugeVec(reg, "fleet", "budget", "reserved_tokens", "Tokens reserved for children per agent budget.", []string{"agent_id"})
	m.Reclamations = registerCounterVec(reg, "fleet", "budget", "reclamations_total", "Budget reclamations performed, by outcome.", []string{"outcome"})

	m.AgentsSpawned = registerCounterVec(reg, "fleet", "agent", "spawned_total", "Agents spawned, by role.", []string{"role"})
	m.AgentTransitions = registerCounterVec(reg, "fleet", "agent", "transitions_total", "Agent status transitions, by target status.", []string{"status"})
	m.AgentDepth = registerHistogram(reg, "fleet", "agent", "depth_level", "Depth level of spawned agents.", prometheus.LinearBuckets(0, 1, 10))

	m.QueueDepth = registerGaugeVec(reg, "fleet", "queue", "depth", "Pending messages by priority.", []string{"priority"})
	m.MessagesSent = registerCounter(reg, "fleet", "queue", "messages_sent_total", "Messages enqueued.")

	m.WorkflowNodeStates = registerGaugeVec(reg, "fleet", "workflow", "node_state_count", "Workflow nodes by execution status, per graph.", []string{"graph_id", "execution_status"})
	m.WorkflowOutcomes = registerCounterVec(reg, "fleet", "workflow", "graph_outcomes_total", "Workflow graphs reaching a terminal status.", []string{"status"})

	return m
}

// Registry returns the registry metrics are registered against, for
// wiring into a promhttp.HandlerFor in pkg/api.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func registerGaugeVec(reg *prometheus.Registry, ns, sub, name, help string, labels []string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	reg.MustRegister(v)
	return v
}

func registerCounterVec(reg *prometheus.Registry, ns, sub, name, help string, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	reg.MustRegister(v)
	return v
}

func registerCounter(reg *prometheus.Registry, ns, sub, name, help string) prometheus.Counter {
	v := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	reg.MustRegister(v)
	return v
}

func registerHistogram(reg *prometheus.Registry, ns, sub, name, help string, buckets []float64) prometheus.Histogram {
	v := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, Buckets: buckets})
	reg.MustRegister(v)
	return v
}
