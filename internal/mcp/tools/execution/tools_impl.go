package execution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
	"github.com/kubilitics/kubilitics-guardrail/internal/metrics"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

// MaxReplicas is the largest count a Deployment spec can hold (int32).
const MaxReplicas = math.MaxInt32

// DefaultRecoveryEstimate is reported for pod restarts.
const DefaultRecoveryEstimate = 30 * time.Second

// Options configures ExecutionTools. All fields are optional.
type Options struct {
	// Mutator performs real changes. Without it, non-dry-run actions that
	// pass the guardrail are reported as FAILED.
	Mutator ClusterMutator

	// Reader fills previous_replicas on dry runs.
	Reader ReplicaReader

	Logger *zap.Logger

	// RecoveryEstimate overrides DefaultRecoveryEstimate.
	RecoveryEstimate time.Duration
}

// ExecutionTools gates remediation actions behind the guardrail policy and
// records every decision in the audit trail.
type ExecutionTools struct {
	evaluator policy.Evaluator
	trail     *audit.Trail
	mutator   ClusterMutator
	reader    ReplicaReader
	logger    *zap.Logger
	recovery  time.Duration
}

// NewExecutionTools creates the executor. The evaluator and trail are shared
// with the rest of the service.
func NewExecutionTools(evaluator policy.Evaluator, trail *audit.Trail, opts Options) (*ExecutionTools, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("policy evaluator is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recovery := opts.RecoveryEstimate
	if recovery <= 0 {
		recovery = DefaultRecoveryEstimate
	}

	return &ExecutionTools{
		evaluator: evaluator,
		trail:     trail,
		mutator:   opts.Mutator,
		reader:    opts.Reader,
		logger:    logger.Named("execution"),
		recovery:  recovery,
	}, nil
}

// Scale sets a Deployment's replica count, or simulates it when
// dryRun is true.
func (t *ExecutionTools) Scale(ctx context.Context, target policy.Target, replicas int, dryRun bool) (*Result, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if replicas < 0 {
		return nil, fmt.Errorf("%w: replicas must be non-negative, got %d", ErrInvalidInput, replicas)
	}
	if replicas > MaxReplicas {
		return nil, fmt.Errorf("%w: replicas must be at most %d, got %d", ErrInvalidInput, MaxReplicas, replicas)
	}

	decision := t.evaluator.Evaluate(target, policy.ScaleAction{Replicas: replicas})
	result := &Result{
		Action:      ToolScaleDeployment,
		Namespace:   target.Namespace,
		Deployment:  target.Name,
		NewReplicas: intPtr(replicas),
		DryRun:      dryRun,
	}

	if !decision.Allowed {
		entry := audit.NewEntry(string(policy.ActionScale), target.String(), audit.OutcomeBlocked).
			WithDetail("requested_replicas", replicas)
		return t.blocked(ctx, result, policy.ActionScale, target, decision, entry), nil
	}

	if dryRun {
		result.PreviousReplicas = t.currentReplicas(ctx, target)
		result.Success = true
		result.Status = StatusSimulated
		result.Message = scaleMessage("Would scale", target.Name, result.PreviousReplicas, replicas)

		entry := audit.NewEntry(string(policy.ActionScale), target.String(), audit.OutcomeDryRun).
			WithDetail("dry_run", true).
			WithDetail("requested_replicas", replicas)
		if result.PreviousReplicas != nil {
			entry = entry.WithDetail("previous_replicas", *result.PreviousReplicas)
		}
		t.record(ctx, result, policy.ActionScale, entry)
		return result, nil
	}

	if t.mutator == nil {
		entry := audit.NewEntry(string(policy.ActionScale), target.String(), audit.OutcomeFailed).
			WithDetail("requested_replicas", replicas)
		return t.failed(ctx, result, policy.ActionScale, target, ErrNoClusterClient, entry), nil
	}

	previous, err := t.mutator.ApplyScale(ctx, target.Namespace, target.Name, replicas)
	if err != nil {
		entry := audit.NewEntry(string(policy.ActionScale), target.String(), audit.OutcomeFailed).
			WithDetail("requested_replicas", replicas)
		return t.failed(ctx, result, policy.ActionScale, target, err, entry), nil
	}

	result.PreviousReplicas = intPtr(previous)
	result.Success = true
	result.Status = StatusCompleted
	result.Message = scaleMessage("Scaled", target.Name, result.PreviousReplicas, replicas)

	entry := audit.NewEntry(string(policy.ActionScale), target.String(), audit.OutcomeExecuted).
		WithDetail("dry_run", false).
		WithDetail("previous_replicas", previous).
		WithDetail("new_replicas", replicas)
	t.record(ctx, result, policy.ActionScale, entry)
	return result, nil
}

// Restart deletes a pod so its controller recreates it, or simulates it
// when dryRun is true.
func (t *ExecutionTools) Restart(ctx context.Context, target policy.Target, dryRun bool) (*Result, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	decision := t.evaluator.Evaluate(target, policy.RestartAction{})
	result := &Result{
		Action:    ToolRestartPod,
		Namespace: target.Namespace,
		Pod:       target.Name,
		DryRun:    dryRun,
	}

	if !decision.Allowed {
		entry := audit.NewEntry(string(policy.ActionRestart), target.String(), audit.OutcomeBlocked)
		return t.blocked(ctx, result, policy.ActionRestart, target, decision, entry), nil
	}

	result.EstimatedRecovery = t.recovery.String()

	if dryRun {
		result.Success = true
		result.Status = StatusSimulated
		result.Message = fmt.Sprintf("Would restart pod %s; its owning controller recreates it (estimated recovery %s)",
			target.Name, result.EstimatedRecovery)

		entry := audit.NewEntry(string(policy.ActionRestart), target.String(), audit.OutcomeDryRun).
			WithDetail("dry_run", true)
		t.record(ctx, result, policy.ActionRestart, entry)
		return result, nil
	}

	err := ErrNoClusterClient
	if t.mutator != nil {
		err = t.mutator.DeletePod(ctx, target.Namespace, target.Name)
	}
	if err != nil {
		entry := audit.NewEntry(string(policy.ActionRestart), target.String(), audit.OutcomeFailed)
		result.EstimatedRecovery = ""
		return t.failed(ctx, result, policy.ActionRestart, target, err, entry), nil
	}

	result.Success = true
	result.Status = StatusCompleted
	result.Message = fmt.Sprintf("Deleted pod %s; its owning controller recreates it (estimated recovery %s)",
		target.Name, result.EstimatedRecovery)

	entry := audit.NewEntry(string(policy.ActionRestart), target.String(), audit.OutcomeExecuted).
		WithDetail("dry_run", false).
		WithDetail("estimated_recovery", result.EstimatedRecovery)
	t.record(ctx, result, policy.ActionRestart, entry)
	return result, nil
}

func (t *ExecutionTools) blocked(ctx context.Context, result *Result, kind policy.ActionKind, target policy.Target, d policy.Decision, entry audit.Entry) *Result {
	result.Success = false
	result.Status = StatusBlocked
	result.Reason = d.Reason
	result.Message = fmt.Sprintf("Blocked %s of %s: %s", kind, target, d.Reason)

	entry = entry.WithDetail("reason", d.Reason).WithDetail("rule", string(d.Rule))
	if d.Detail != "" {
		entry = entry.WithDetail("detail", d.Detail)
	}
	metrics.GuardrailBlocked.WithLabelValues(string(d.Rule), string(kind)).Inc()
	t.logger.Warn("action blocked by guardrail",
		zap.String("action", string(kind)),
		zap.String("target", target.String()),
		zap.String("rule", string(d.Rule)),
		zap.String("reason", d.Reason),
	)

	t.record(ctx, result, kind, entry)
	return result
}

func (t *ExecutionTools) failed(ctx context.Context, result *Result, kind policy.ActionKind, target policy.Target, err error, entry audit.Entry) *Result {
	result.Success = false
	result.Status = StatusFailed
	result.Error = err.Error()
	result.Message = fmt.Sprintf("Failed to %s %s: %v", kind, target, err)

	t.logger.Error("remediation action failed",
		zap.String("action", string(kind)),
		zap.String("target", target.String()),
		zap.Error(err),
	)

	entry = entry.WithDetail("dry_run", false).WithDetail("error", err.Error())
	t.record(ctx, result, kind, entry)
	return result
}

// record appends the audit entry and copies its id and timestamp onto the
// result. It is the last step of every evaluated action.
func (t *ExecutionTools) record(ctx context.Context, result *Result, kind policy.ActionKind, entry audit.Entry) {
	stored := t.trail.Append(ctx, entry)
	result.AuditID = stored.ID
	result.Timestamp = stored.Timestamp

	metrics.GuardrailDecisions.WithLabelValues(string(kind), string(stored.Result)).Inc()
	t.logger.Info("remediation decision recorded",
		zap.String("audit_id", stored.ID),
		zap.String("action", string(kind)),
		zap.String("target", stored.Target),
		zap.String("result", string(stored.Result)),
	)
}

// currentReplicas returns nil when there is no reader or the read fails.
func (t *ExecutionTools) currentReplicas(ctx context.Context, target policy.Target) *int {
	if t.reader == nil {
		return nil
	}
	n, err := t.reader.CurrentReplicas(ctx, target.Namespace, target.Name)
	if err != nil {
		t.logger.Debug("current replica count unavailable",
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return nil
	}
	return intPtr(n)
}

func validateTarget(target policy.Target) error {
	if strings.TrimSpace(target.Namespace) == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}
	if strings.TrimSpace(target.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

func scaleMessage(verb, name string, previous *int, replicas int) string {
	if previous == nil {
		return fmt.Sprintf("%s deployment %s to %d replicas (current count unknown)", verb, name, replicas)
	}
	return fmt.Sprintf("%s deployment %s from %d to %d replicas", verb, name, *previous, replicas)
}

func intPtr(n int) *int { return &n }
