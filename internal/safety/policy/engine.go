package policy

// Package policy provides the guardrail Policy Evaluator.
//
// The evaluator is the single gatekeeper for every remediation action the
// service is asked to perform. It is pure: given a target and an action it
// returns a Decision, with no side effects and no I/O.
//
// Rules (evaluated in this fixed order, first violation wins):
//
//   1. Protected namespace: target namespace is in the protected set
//   2. Protected name: target name matches a protected pattern, anchored at
//      the start of the name
//   3. Replica floor (scale only): replicas < min_replicas
//
// If no rule fires the action is allowed.
//
// The ruleset is built once at startup (see NewRuleset) and is read-only for
// the rest of the process lifetime.

import "fmt"

// Target identifies a workload or process group.
type Target struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// String renders the target as "namespace/name".
func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Namespace, t.Name)
}

// ActionKind names a supported remediation action.
type ActionKind string

const (
	ActionScale   ActionKind = "scale"
	ActionRestart ActionKind = "restart"
)

// Action is the closed set of remediation actions. Only ScaleAction and
// RestartAction implement it.
type Action interface {
	Kind() ActionKind
	isAction()
}

// ScaleAction sets the replica count of a workload.
type ScaleAction struct {
	Replicas int
}

func (ScaleAction) Kind() ActionKind { return ActionScale }
func (ScaleAction) isAction()        {}

// RestartAction deletes a pod so that its controller recreates it.
type RestartAction struct{}

func (RestartAction) Kind() ActionKind { return ActionRestart }
func (RestartAction) isAction()        {}

// Rule names, reported on Decision.Rule and used as metric labels.
const (
	RuleProtectedNamespace = "protected_namespace"
	RuleProtectedName      = "protected_name"
	RuleReplicaFloor       = "replica_floor"
)

// Decision reasons. These strings are part of the external contract.
const (
	ReasonProtectedNamespace = "protected namespace"
	ReasonProtectedName      = "protected resource name"
	ReasonReplicaFloor       = "replica count below floor"
	ReasonAllowed            = "allowed"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// Rule is the rule that blocked the action; empty when allowed.
	Rule string `json:"rule,omitempty"`
	// Detail is a human-readable explanation naming the offending value.
	Detail string `json:"detail,omitempty"`
}

// Evaluator decides whether an action on a target may proceed.
type Evaluator interface {
	Evaluate(target Target, action Action) Decision
}
