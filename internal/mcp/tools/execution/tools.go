package execution

// Package execution provides the guardrail-gated remediation tools.
//
// CRITICAL CONSTRAINT: every action passes through the Policy Evaluator
// before anything else happens, and every evaluated action writes exactly one
// audit entry before the call returns.
//
// Flow per call:
//   1. Validate arguments           → ErrInvalidInput, nothing audited
//   2. Evaluate guardrail policy    → BLOCKED, audited, no cluster call
//   3. dry_run=true                 → SIMULATED, audited as DRY-RUN
//   4. dry_run=false                → cluster collaborator is called
//        success                    → COMPLETED, audited as EXECUTED
//        failure / no collaborator  → FAILED, audited as FAILED
//
// Tools Provided:
//
//   1. scale_deployment
//      - Args: namespace, name, replicas, dry_run
//      - Returns: previous vs. new replicas
//      - Gated By: protected namespace, protected name, replica floor
//
//   2. restart_pod
//      - Args: name, namespace, dry_run
//      - Returns: recovery estimate; the pod is recreated by its controller
//      - Gated By: protected namespace, protected name
//
// Nothing is retried here. Retry policy belongs to the collaborator or the
// caller.

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Tool names as exposed to callers.
const (
	ToolScaleDeployment = "scale_deployment"
	ToolRestartPod      = "restart_pod"
)

// Status is the caller-facing outcome of a remediation request.
type Status string

const (
	StatusBlocked   Status = "BLOCKED"
	StatusSimulated Status = "SIMULATED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	// ErrInvalidInput marks malformed requests. It is never audited and never
	// reported as BLOCKED.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoClusterClient is reported when a non-dry-run action is allowed but
	// no cluster collaborator is configured.
	ErrNoClusterClient = errors.New("cluster client not configured")
)

// ClusterMutator performs real cluster mutations when dry_run is false.
type ClusterMutator interface {
	// ApplyScale sets the replica count and returns the previous count.
	ApplyScale(ctx context.Context, namespace, name string, replicas int) (int, error)

	// DeletePod deletes a pod so that its owning controller recreates it.
	DeletePod(ctx context.Context, namespace, name string) error
}

// ReplicaReader reports the current replica count of a workload. It is used
// to fill previous_replicas on dry runs.
type ReplicaReader interface {
	CurrentReplicas(ctx context.Context, namespace, name string) (int, error)
}

// Result is returned for every evaluated action.
type Result struct {
	Success   bool   `json:"success"`
	Status    Status `json:"status"`
	Action    string `json:"action"`
	Namespace string `json:"namespace"`

	// Deployment is set for scale_deployment, Pod for restart_pod.
	Deployment string `json:"deployment,omitempty"`
	Pod        string `json:"pod,omitempty"`

	// PreviousReplicas is nil when the current count is unknown.
	PreviousReplicas  *int   `json:"previous_replicas,omitempty"`
	NewReplicas       *int   `json:"new_replicas,omitempty"`
	EstimatedRecovery string `json:"estimated_recovery,omitempty"`

	// Reason is set iff Status is BLOCKED, Error iff Status is FAILED.
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	DryRun    bool      `json:"dry_run"`
	Message   string    `json:"message"`
	AuditID   string    `json:"audit_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON always emits previous_replicas for scale results, as null when
// the count is unknown.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if r.Action != ToolScaleDeployment {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		PreviousReplicas *int `json:"previous_replicas"`
	}{plain(r), r.PreviousReplicas})
}
