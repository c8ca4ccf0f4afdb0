package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRuleset(t *testing.T) *Ruleset {
	t.Helper()
	rs, err := NewRuleset(DefaultRules())
	require.NoError(t, err)
	return rs
}

func TestEvaluate_ProtectedNamespaceBlocksAllActions(t *testing.T) {
	rs := defaultRuleset(t)

	for _, ns := range []string{"kube-system", "kube-public", "kube-node-lease"} {
		for _, action := range []Action{ScaleAction{Replicas: 3}, ScaleAction{Replicas: 0}, RestartAction{}} {
			d := rs.Evaluate(Target{Namespace: ns, Name: "coredns"}, action)
			assert.False(t, d.Allowed, "%s %s", ns, action.Kind())
			assert.Equal(t, ReasonProtectedNamespace, d.Reason)
			assert.Equal(t, RuleProtectedNamespace, d.Rule)
		}
	}
}

func TestEvaluate_ProtectedNamePatterns(t *testing.T) {
	rs := defaultRuleset(t)

	tests := []struct {
		name    string
		blocked bool
	}{
		{"api-server", true},
		{"my-api-server-7d9", true},
		{"etcd-0", true},
		{"backup-etcd", true},
		{"control-plane-proxy", true},
		{"web-app", false},
		{"apiserver", false},
		{"app-pod-1234", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, action := range []Action{ScaleAction{Replicas: 3}, RestartAction{}} {
				d := rs.Evaluate(Target{Namespace: "default", Name: tc.name}, action)
				assert.Equal(t, !tc.blocked, d.Allowed)
				if tc.blocked {
					assert.Equal(t, ReasonProtectedName, d.Reason)
				}
			}
		})
	}
}

func TestEvaluate_PatternsAreAnchoredAtStart(t *testing.T) {
	rs, err := NewRuleset(Rules{ProtectedNamePatterns: []string{"db-"}, MinReplicas: 1})
	require.NoError(t, err)

	assert.False(t, rs.Evaluate(Target{Namespace: "default", Name: "db-primary"}, RestartAction{}).Allowed)
	assert.True(t, rs.Evaluate(Target{Namespace: "default", Name: "orders-db-primary"}, RestartAction{}).Allowed)
}

func TestEvaluate_ReplicaFloor(t *testing.T) {
	rs := defaultRuleset(t)
	target := Target{Namespace: "default", Name: "web-app"}

	d := rs.Evaluate(target, ScaleAction{Replicas: 0})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonReplicaFloor, d.Reason)
	assert.Equal(t, RuleReplicaFloor, d.Rule)

	d = rs.Evaluate(target, ScaleAction{Replicas: 1})
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.Empty(t, d.Rule)
}

func TestEvaluate_ReplicaFloorSkippedForRestart(t *testing.T) {
	rs, err := NewRuleset(Rules{MinReplicas: 5})
	require.NoError(t, err)

	d := rs.Evaluate(Target{Namespace: "default", Name: "web-app"}, RestartAction{})
	assert.True(t, d.Allowed)
}

func TestEvaluate_FirstMatchingRuleWins(t *testing.T) {
	rs := defaultRuleset(t)

	// namespace beats pattern and floor
	d := rs.Evaluate(Target{Namespace: "kube-system", Name: "etcd-0"}, ScaleAction{Replicas: 0})
	assert.Equal(t, ReasonProtectedNamespace, d.Reason)

	// pattern beats floor
	d = rs.Evaluate(Target{Namespace: "default", Name: "api-server"}, ScaleAction{Replicas: 0})
	assert.Equal(t, ReasonProtectedName, d.Reason)

	// without patterns the floor is reported
	noPatterns, err := NewRuleset(Rules{ProtectedNamespaces: []string{"kube-system"}, MinReplicas: 1})
	require.NoError(t, err)
	d = noPatterns.Evaluate(Target{Namespace: "default", Name: "api-server"}, ScaleAction{Replicas: 0})
	assert.Equal(t, ReasonReplicaFloor, d.Reason)
}

func TestEvaluate_Deterministic(t *testing.T) {
	rs := defaultRuleset(t)
	target := Target{Namespace: "default", Name: "web-app"}

	first := rs.Evaluate(target, ScaleAction{Replicas: 5})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rs.Evaluate(target, ScaleAction{Replicas: 5}))
	}
}

func TestNewRuleset_RejectsMalformedPattern(t *testing.T) {
	_, err := NewRuleset(Rules{ProtectedNamePatterns: []string{"ok", "([unclosed"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected_name_patterns[1]")
}

func TestNewRuleset_RejectsNegativeFloor(t *testing.T) {
	_, err := NewRuleset(Rules{MinReplicas: -1})
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	rs := defaultRuleset(t)
	desc := rs.Describe()

	assert.Equal(t, []string{"kube-node-lease", "kube-public", "kube-system"}, desc.ProtectedNamespaces)
	assert.Equal(t, DefaultRules().ProtectedNamePatterns, desc.ProtectedNamePatterns)
	assert.Equal(t, 1, desc.MinReplicas)
	assert.Equal(t, 1, rs.MinReplicas())
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "default/web-app", Target{Namespace: "default", Name: "web-app"}.String())
}
