package config

import "github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.ReadTimeoutSeconds = 30
	cfg.Server.WriteTimeoutSeconds = 30
	cfg.Server.ShutdownTimeoutSeconds = 10
	cfg.Server.AllowedOrigins = []string{}

	// Guardrail defaults
	rules := policy.DefaultRules()
	cfg.Guardrail.ProtectedNamespaces = rules.ProtectedNamespaces
	cfg.Guardrail.ProtectedNamePatterns = rules.ProtectedNamePatterns
	cfg.Guardrail.MinReplicas = rules.MinReplicas

	// Cluster defaults: dry runs only until explicitly enabled
	cfg.Cluster.Enabled = false
	cfg.Cluster.TimeoutSeconds = 15
	cfg.Cluster.RetryAttempts = 3
	cfg.Cluster.QPS = 20
	cfg.Cluster.Burst = 40
	cfg.Cluster.BreakerThreshold = 5
	cfg.Cluster.BreakerOpenSeconds = 30

	// Audit defaults
	cfg.Audit.MirrorBuffer = 1024
	cfg.Audit.File.Enabled = false
	cfg.Audit.File.Path = "logs/audit.log"
	cfg.Audit.File.MaxSizeMB = 100
	cfg.Audit.File.MaxBackups = 10
	cfg.Audit.File.MaxAgeDays = 30
	cfg.Audit.File.Compress = true
	cfg.Audit.Archive.Enabled = false
	cfg.Audit.Archive.SQLitePath = "guardrail-audit.db"

	// Tools defaults
	cfg.Tools.RateLimit = 0
	cfg.Tools.Burst = 10
	cfg.Tools.DefaultAuditLimit = 10
	cfg.Tools.Disabled = []string{}
	cfg.Tools.RecoveryEstimateSeconds = 30

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
