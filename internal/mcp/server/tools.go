package server

import (
	"context"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

// Tool names served by the facade.
const (
	ToolScaleDeployment = execution.ToolScaleDeployment
	ToolRestartPod      = execution.ToolRestartPod
	ToolGetAuditLog     = "get_audit_log"
	ToolDescribePolicy  = "describe_policy"
)

// Argument defaults.
const (
	DefaultAuditLimit = 10
	DefaultNamespace  = "default"
	DefaultDryRun     = true
)

// ToolDefinition describes a tool to callers.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Destructive bool                   `json:"destructive"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type toolHandler struct {
	definition ToolDefinition
	run        func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// AuditLog is the get_audit_log response.
type AuditLog struct {
	TotalEntries    int           `json:"total_entries"`
	ReturnedEntries int           `json:"returned_entries"`
	Logs            []audit.Entry `json:"logs"`
}

func (s *Server) registerTools() {
	s.register(ToolDefinition{
		Name: ToolScaleDeployment,
		Description: "Scale a Deployment to the given replica count. Protected namespaces, " +
			"protected names and the replica floor are enforced. Defaults to a dry run.",
		Destructive: true,
		InputSchema: objectSchema(map[string]interface{}{
			"namespace": prop("string", "Namespace of the Deployment (required)"),
			"name":      prop("string", "Deployment name (required)"),
			"replicas":  prop("integer", "Desired replica count (required, >= 0)"),
			"dry_run":   prop("boolean", "Simulate only (default true)"),
		}, "namespace", "name", "replicas"),
	}, s.handleScale)

	s.register(ToolDefinition{
		Name: ToolRestartPod,
		Description: "Restart a pod by deleting it so its owning controller recreates it. " +
			"Protected namespaces and names are enforced. Defaults to a dry run.",
		Destructive: true,
		InputSchema: objectSchema(map[string]interface{}{
			"name":      prop("string", "Pod name (required)"),
			"namespace": prop("string", "Namespace of the pod (default \"default\")"),
			"dry_run":   prop("boolean", "Simulate only (default true)"),
		}, "name"),
	}, s.handleRestart)

	s.register(ToolDefinition{
		Name:        ToolGetAuditLog,
		Description: "Return the most recent audit entries, oldest first, with the total entry count.",
		InputSchema: objectSchema(map[string]interface{}{
			"limit": prop("integer", "Maximum entries to return (default 10)"),
		}),
	}, s.handleAuditLog)

	if s.policy != nil {
		s.register(ToolDefinition{
			Name:        ToolDescribePolicy,
			Description: "Return the effective guardrail rules.",
			InputSchema: objectSchema(map[string]interface{}{}),
		}, s.handleDescribePolicy)
	}
}

func (s *Server) register(def ToolDefinition, run func(context.Context, map[string]interface{}) (interface{}, error)) {
	s.handlers[def.Name] = toolHandler{definition: def, run: run}
	s.enabledTools[def.Name] = true
}

// ─── Typed operations ─────────────────────────────────────────────────────────

// ScaleDeployment evaluates and, unless dryRun, applies a replica change.
func (s *Server) ScaleDeployment(ctx context.Context, namespace, name string, replicas int, dryRun bool) (*execution.Result, error) {
	return s.executor.Scale(ctx, policy.Target{Namespace: namespace, Name: name}, replicas, dryRun)
}

// RestartPod evaluates and, unless dryRun, deletes the pod. An empty
// namespace means DefaultNamespace.
func (s *Server) RestartPod(ctx context.Context, name, namespace string, dryRun bool) (*execution.Result, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return s.executor.Restart(ctx, policy.Target{Namespace: namespace, Name: name}, dryRun)
}

// GetAuditLog returns the last limit entries. A non-positive limit returns
// no entries.
func (s *Server) GetAuditLog(limit int) AuditLog {
	logs := s.trail.Tail(limit)
	return AuditLog{
		TotalEntries:    s.trail.TotalCount(),
		ReturnedEntries: len(logs),
		Logs:            logs,
	}
}

// DescribePolicy returns the effective rules, or false when no describer is
// configured.
func (s *Server) DescribePolicy() (policy.Rules, bool) {
	if s.policy == nil {
		return policy.Rules{}, false
	}
	return s.policy.Describe(), true
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleScale(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	namespace, err := stringArg(args, "namespace", "", true)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, "name", "", true)
	if err != nil {
		return nil, err
	}
	replicas, err := intArg(args, "replicas", 0, true)
	if err != nil {
		return nil, err
	}
	dryRun, err := boolArg(args, "dry_run", DefaultDryRun)
	if err != nil {
		return nil, err
	}
	return s.ScaleDeployment(ctx, namespace, name, replicas, dryRun)
}

func (s *Server) handleRestart(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "name", "", true)
	if err != nil {
		return nil, err
	}
	namespace, err := stringArg(args, "namespace", DefaultNamespace, false)
	if err != nil {
		return nil, err
	}
	dryRun, err := boolArg(args, "dry_run", DefaultDryRun)
	if err != nil {
		return nil, err
	}
	return s.RestartPod(ctx, name, namespace, dryRun)
}

func (s *Server) handleAuditLog(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit, err := intArg(args, "limit", s.defaultAuditLimit, false)
	if err != nil {
		return nil, err
	}
	return s.GetAuditLog(limit), nil
}

func (s *Server) handleDescribePolicy(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	rules, _ := s.DescribePolicy()
	return rules, nil
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
