package config

import (
	"fmt"
	"strings"

	mcpserver "github.com/kubilitics/kubilitics-guardrail/internal/mcp/server"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var knownTools = map[string]bool{
	mcpserver.ToolScaleDeployment: true,
	mcpserver.ToolRestartPod:      true,
	mcpserver.ToolGetAuditLog:     true,
	mcpserver.ToolDescribePolicy:  true,
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		add("server", "timeouts must not be negative")
	}

	// Guardrail: compiling the ruleset reports malformed patterns and a
	// negative floor.
	if _, err := policy.NewRuleset(c.Rules()); err != nil {
		add("guardrail", "%v", err)
	}
	for i, ns := range c.Guardrail.ProtectedNamespaces {
		if strings.TrimSpace(ns) == "" {
			add(fmt.Sprintf("guardrail.protected_namespaces[%d]", i), "namespace must not be empty")
		}
	}

	// Cluster
	if c.Cluster.Enabled {
		if c.Cluster.TimeoutSeconds < 0 {
			add("cluster.timeout_seconds", "must not be negative, got %d", c.Cluster.TimeoutSeconds)
		}
		if c.Cluster.RetryAttempts < 1 {
			add("cluster.retry_attempts", "must be at least 1, got %d", c.Cluster.RetryAttempts)
		}
		if c.Cluster.QPS < 0 {
			add("cluster.qps", "must not be negative, got %v", c.Cluster.QPS)
		}
		if c.Cluster.QPS > 0 && c.Cluster.Burst < 1 {
			add("cluster.burst", "must be at least 1 when qps is set, got %d", c.Cluster.Burst)
		}
	}

	// Audit
	if c.Audit.MirrorBuffer < 0 {
		add("audit.mirror_buffer", "must not be negative, got %d", c.Audit.MirrorBuffer)
	}
	if c.Audit.File.Enabled && c.Audit.File.Path == "" {
		add("audit.file.path", "path is required when audit.file.enabled is true")
	}
	if c.Audit.Archive.Enabled && c.Audit.Archive.SQLitePath == "" {
		add("audit.archive.sqlite_path", "path is required when audit.archive.enabled is true")
	}

	// Tools
	if c.Tools.RateLimit < 0 {
		add("tools.rate_limit", "must not be negative, got %v", c.Tools.RateLimit)
	}
	if c.Tools.RateLimit > 0 && c.Tools.Burst < 1 {
		add("tools.burst", "must be at least 1 when rate_limit is set, got %d", c.Tools.Burst)
	}
	if c.Tools.DefaultAuditLimit < 1 {
		add("tools.default_audit_limit", "must be at least 1, got %d", c.Tools.DefaultAuditLimit)
	}
	if c.Tools.RecoveryEstimateSeconds < 0 {
		add("tools.recovery_estimate_seconds", "must not be negative, got %d", c.Tools.RecoveryEstimateSeconds)
	}
	for _, name := range c.Tools.Disabled {
		if !knownTools[name] {
			add("tools.disabled", "unknown tool %q", name)
		}
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	return errs
}
