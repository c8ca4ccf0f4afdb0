package config

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

// Package config provides configuration management for the guardrail service.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KUBILITICS_GUARDRAIL_* prefix, "." → "_")
//   2. YAML config file (default: /etc/kubilitics/guardrail.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: HTTP listen address (default 0.0.0.0:8090)
//      - read/write/shutdown timeouts in seconds
//      - allowed_origins: CORS origins for browser callers
//
//   2. Guardrail
//      - protected_namespaces, protected_name_patterns, min_replicas
//      - immutable for the process lifetime; changes need a restart
//
//   3. Cluster
//      - enabled: build a client-go collaborator for dry_run=false
//      - kubeconfig, context, timeout, retries, qps/burst, circuit breaker
//
//   4. Audit
//      - mirror_buffer: queue size between the trail and its sinks
//      - file: rotating JSON audit log
//      - archive: SQLite archive
//
//   5. Tools
//      - rate_limit, burst, default_audit_limit, disabled, recovery_estimate_seconds
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error" (applied live on reload)
//      - format: "json" | "console"
//
// Config struct contains all configuration fields
type Config struct {
	// HTTP transport
	Server struct {
		Host                   string
		Port                   int
		ReadTimeoutSeconds     int
		WriteTimeoutSeconds    int
		ShutdownTimeoutSeconds int
		AllowedOrigins         []string
	}

	// Guardrail policy
	Guardrail struct {
		ProtectedNamespaces   []string
		ProtectedNamePatterns []string
		MinReplicas           int
	}

	// Cluster collaborator
	Cluster struct {
		Enabled            bool
		Kubeconfig         string
		Context            string
		TimeoutSeconds     int
		RetryAttempts      int
		QPS                float64
		Burst              int
		BreakerThreshold   int
		BreakerOpenSeconds int
	}

	// Audit mirrors
	Audit struct {
		MirrorBuffer int
		File         struct {
			Enabled    bool
			Path       string
			MaxSizeMB  int
			MaxBackups int
			MaxAgeDays int
			Compress   bool
		}
		Archive struct {
			Enabled    bool
			SQLitePath string
		}
	}

	// Tool facade
	Tools struct {
		RateLimit               float64
		Burst                   int
		DefaultAuditLimit       int
		Disabled                []string
		RecoveryEstimateSeconds int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// Rules returns the guardrail section as policy rules.
func (c *Config) Rules() policy.Rules {
	return policy.Rules{
		ProtectedNamespaces:   append([]string(nil), c.Guardrail.ProtectedNamespaces...),
		ProtectedNamePatterns: append([]string(nil), c.Guardrail.ProtectedNamePatterns...),
		MinReplicas:           c.Guardrail.MinReplicas,
	}
}

// ClusterTimeout returns the per-call cluster API timeout.
func (c *Config) ClusterTimeout() time.Duration {
	return time.Duration(c.Cluster.TimeoutSeconds) * time.Second
}

// RecoveryEstimate returns the restart recovery hint.
func (c *Config) RecoveryEstimate() time.Duration {
	return time.Duration(c.Tools.RecoveryEstimateSeconds) * time.Second
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load reads defaults, the config file (if present) and the environment.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate checks the current configuration.
	Validate(ctx context.Context) error

	// Watch delivers reloaded configurations when the config file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads all sources.
	Reload(ctx context.Context) error

	// ConfigFileUsed returns the config file path, or "" if none was read.
	ConfigFileUsed() string
}

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/kubilitics/guardrail.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
