package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Guardrail service metrics for production monitoring
var (
	// Policy decisions
	GuardrailDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_guardrail_decisions_total",
			Help: "Total number of remediation requests by action and audited outcome",
		},
		[]string{"action", "outcome"}, // outcome: BLOCKED/DRY-RUN/EXECUTED/FAILED
	)

	GuardrailBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_guardrail_blocked_total",
			Help: "Total number of actions blocked by guardrail rules",
		},
		[]string{"rule", "action"},
	)

	// Cluster collaborator
	ClusterMutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_guardrail_cluster_mutation_duration_seconds",
			Help:    "Duration of cluster mutation calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"operation", "status"},
	)

	ClusterCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_guardrail_cluster_circuit_state",
			Help: "Cluster API circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	ClusterCircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_guardrail_cluster_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// Audit trail
	AuditEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_guardrail_audit_entries",
			Help: "Current number of entries in the in-memory audit trail",
		},
	)

	AuditMirrorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_guardrail_audit_mirror_dropped_total",
			Help: "Total number of audit entries not mirrored because the queue was full",
		},
	)

	// Tool facade
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_guardrail_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_guardrail_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"tool"},
	)
)
