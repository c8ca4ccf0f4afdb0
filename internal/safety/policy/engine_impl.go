package policy

import (
	"fmt"
	"regexp"
	"sort"
)

// Rules is the declarative form of the guardrail policy, as read from config.
type Rules struct {
	ProtectedNamespaces   []string `json:"protected_namespaces"`
	ProtectedNamePatterns []string `json:"protected_name_patterns"`
	MinReplicas           int      `json:"min_replicas"`
}

// DefaultRules returns the built-in guardrail policy.
func DefaultRules() Rules {
	return Rules{
		ProtectedNamespaces:   []string{"kube-system", "kube-public", "kube-node-lease"},
		ProtectedNamePatterns: []string{".*control-plane.*", ".*etcd.*", ".*api-server.*"},
		MinReplicas:           1,
	}
}

// ─── Ruleset ──────────────────────────────────────────────────────────────────

type namePattern struct {
	source string
	re     *regexp.Regexp
}

// Ruleset is the compiled, immutable guardrail policy. It is safe for
// concurrent use.
type Ruleset struct {
	namespaces  map[string]struct{}
	patterns    []namePattern
	minReplicas int
}

// NewRuleset compiles rules into a Ruleset. Patterns match from the start of
// the target name; a malformed pattern is an error.
func NewRuleset(rules Rules) (*Ruleset, error) {
	if rules.MinReplicas < 0 {
		return nil, fmt.Errorf("min_replicas must be >= 0, got %d", rules.MinReplicas)
	}

	rs := &Ruleset{
		namespaces:  make(map[string]struct{}, len(rules.ProtectedNamespaces)),
		patterns:    make([]namePattern, 0, len(rules.ProtectedNamePatterns)),
		minReplicas: rules.MinReplicas,
	}
	for _, ns := range rules.ProtectedNamespaces {
		if ns == "" {
			continue
		}
		rs.namespaces[ns] = struct{}{}
	}
	for i, p := range rules.ProtectedNamePatterns {
		re, err := compileAnchored(p)
		if err != nil {
			return nil, fmt.Errorf("protected_name_patterns[%d] %q: %w", i, p, err)
		}
		rs.patterns = append(rs.patterns, namePattern{source: p, re: re})
	}
	return rs, nil
}

// MustNewRuleset is NewRuleset for static rules known to be valid.
func MustNewRuleset(rules Rules) *Ruleset {
	rs, err := NewRuleset(rules)
	if err != nil {
		panic(err)
	}
	return rs
}

// compileAnchored compiles p so that it only matches at the start of the input.
func compileAnchored(p string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(p); err != nil {
		return nil, err
	}
	return regexp.Compile(`^(?:` + p + `)`)
}

// Evaluate implements Evaluator.
func (r *Ruleset) Evaluate(target Target, action Action) Decision {
	if _, ok := r.namespaces[target.Namespace]; ok {
		return Decision{
			Reason: ReasonProtectedNamespace,
			Rule:   RuleProtectedNamespace,
			Detail: fmt.Sprintf("namespace %q is protected", target.Namespace),
		}
	}

	for _, p := range r.patterns {
		if p.re.MatchString(target.Name) {
			return Decision{
				Reason: ReasonProtectedName,
				Rule:   RuleProtectedName,
				Detail: fmt.Sprintf("name %q matches protected pattern %q", target.Name, p.source),
			}
		}
	}

	switch a := action.(type) {
	case ScaleAction:
		if a.Replicas < r.minReplicas {
			return Decision{
				Reason: ReasonReplicaFloor,
				Rule:   RuleReplicaFloor,
				Detail: fmt.Sprintf("requested %d replicas, minimum is %d", a.Replicas, r.minReplicas),
			}
		}
	case RestartAction:
		// no action-specific rules
	}

	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// MinReplicas returns the replica floor.
func (r *Ruleset) MinReplicas() int { return r.minReplicas }

// Describe returns the effective rules. Namespaces are sorted; patterns keep
// their evaluation order.
func (r *Ruleset) Describe() Rules {
	out := Rules{
		ProtectedNamespaces:   make([]string, 0, len(r.namespaces)),
		ProtectedNamePatterns: make([]string, 0, len(r.patterns)),
		MinReplicas:           r.minReplicas,
	}
	for ns := range r.namespaces {
		out.ProtectedNamespaces = append(out.ProtectedNamespaces, ns)
	}
	sort.Strings(out.ProtectedNamespaces)
	for _, p := range r.patterns {
		out.ProtectedNamePatterns = append(out.ProtectedNamePatterns, p.source)
	}
	return out
}
