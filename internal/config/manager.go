package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "KUBILITICS_GUARDRAIL"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu         sync.RWMutex
	config     *Config
	fileLoaded bool
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	m.setDefaults()

	if err := m.readFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// readFile reads the config file; a missing file means defaults + env only.
func (m *viperConfigManager) readFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		m.mu.Lock()
		m.fileLoaded = true
		m.mu.Unlock()
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ConfigFileUsed returns the config file path if it was read.
func (m *viperConfigManager) ConfigFileUsed() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.fileLoaded {
		return ""
	}
	return m.configPath
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	cfg := m.Get(ctx)
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	errs := cfg.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and delivers each valid reload. Nothing is
// delivered when no config file was read.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.ConfigFileUsed() == "" {
		return m.watchChan
	}

	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			cfg, ok := m.applyFileChange()
			if !ok {
				return
			}
			select {
			case m.watchChan <- cfg:
			default:
				// Channel full, skip this update
			}
		})
		m.viper.WatchConfig()
	})

	return m.watchChan
}

// applyFileChange decodes the re-read file and swaps it in only when it
// validates. An invalid edit leaves the current configuration in place.
func (m *viperConfigManager) applyFileChange() (Config, bool) {
	cfg := m.decode()
	if len(cfg.Validate()) > 0 {
		return Config{}, false
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return *cfg, true
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Guardrail defaults
	m.viper.SetDefault("guardrail.protected_namespaces", defaults.Guardrail.ProtectedNamespaces)
	m.viper.SetDefault("guardrail.protected_name_patterns", defaults.Guardrail.ProtectedNamePatterns)
	m.viper.SetDefault("guardrail.min_replicas", defaults.Guardrail.MinReplicas)

	// Cluster defaults
	m.viper.SetDefault("cluster.enabled", defaults.Cluster.Enabled)
	m.viper.SetDefault("cluster.kubeconfig", defaults.Cluster.Kubeconfig)
	m.viper.SetDefault("cluster.context", defaults.Cluster.Context)
	m.viper.SetDefault("cluster.timeout_seconds", defaults.Cluster.TimeoutSeconds)
	m.viper.SetDefault("cluster.retry_attempts", defaults.Cluster.RetryAttempts)
	m.viper.SetDefault("cluster.qps", defaults.Cluster.QPS)
	m.viper.SetDefault("cluster.burst", defaults.Cluster.Burst)
	m.viper.SetDefault("cluster.breaker_threshold", defaults.Cluster.BreakerThreshold)
	m.viper.SetDefault("cluster.breaker_open_seconds", defaults.Cluster.BreakerOpenSeconds)

	// Audit defaults
	m.viper.SetDefault("audit.mirror_buffer", defaults.Audit.MirrorBuffer)
	m.viper.SetDefault("audit.file.enabled", defaults.Audit.File.Enabled)
	m.viper.SetDefault("audit.file.path", defaults.Audit.File.Path)
	m.viper.SetDefault("audit.file.max_size_mb", defaults.Audit.File.MaxSizeMB)
	m.viper.SetDefault("audit.file.max_backups", defaults.Audit.File.MaxBackups)
	m.viper.SetDefault("audit.file.max_age_days", defaults.Audit.File.MaxAgeDays)
	m.viper.SetDefault("audit.file.compress", defaults.Audit.File.Compress)
	m.viper.SetDefault("audit.archive.enabled", defaults.Audit.Archive.Enabled)
	m.viper.SetDefault("audit.archive.sqlite_path", defaults.Audit.Archive.SQLitePath)

	// Tools defaults
	m.viper.SetDefault("tools.rate_limit", defaults.Tools.RateLimit)
	m.viper.SetDefault("tools.burst", defaults.Tools.Burst)
	m.viper.SetDefault("tools.default_audit_limit", defaults.Tools.DefaultAuditLimit)
	m.viper.SetDefault("tools.disabled", defaults.Tools.Disabled)
	m.viper.SetDefault("tools.recovery_estimate_seconds", defaults.Tools.RecoveryEstimateSeconds)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig decodes viper state and makes it current.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := m.decode()
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// decode reads viper state into a new Config.
func (m *viperConfigManager) decode() *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeoutSeconds = m.viper.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = m.viper.GetInt("server.write_timeout_seconds")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Guardrail
	cfg.Guardrail.ProtectedNamespaces = m.viper.GetStringSlice("guardrail.protected_namespaces")
	cfg.Guardrail.ProtectedNamePatterns = m.viper.GetStringSlice("guardrail.protected_name_patterns")
	cfg.Guardrail.MinReplicas = m.viper.GetInt("guardrail.min_replicas")

	// Cluster
	cfg.Cluster.Enabled = m.viper.GetBool("cluster.enabled")
	cfg.Cluster.Kubeconfig = m.viper.GetString("cluster.kubeconfig")
	cfg.Cluster.Context = m.viper.GetString("cluster.context")
	cfg.Cluster.TimeoutSeconds = m.viper.GetInt("cluster.timeout_seconds")
	cfg.Cluster.RetryAttempts = m.viper.GetInt("cluster.retry_attempts")
	cfg.Cluster.QPS = m.viper.GetFloat64("cluster.qps")
	cfg.Cluster.Burst = m.viper.GetInt("cluster.burst")
	cfg.Cluster.BreakerThreshold = m.viper.GetInt("cluster.breaker_threshold")
	cfg.Cluster.BreakerOpenSeconds = m.viper.GetInt("cluster.breaker_open_seconds")

	// Audit
	cfg.Audit.MirrorBuffer = m.viper.GetInt("audit.mirror_buffer")
	cfg.Audit.File.Enabled = m.viper.GetBool("audit.file.enabled")
	cfg.Audit.File.Path = m.viper.GetString("audit.file.path")
	cfg.Audit.File.MaxSizeMB = m.viper.GetInt("audit.file.max_size_mb")
	cfg.Audit.File.MaxBackups = m.viper.GetInt("audit.file.max_backups")
	cfg.Audit.File.MaxAgeDays = m.viper.GetInt("audit.file.max_age_days")
	cfg.Audit.File.Compress = m.viper.GetBool("audit.file.compress")
	cfg.Audit.Archive.Enabled = m.viper.GetBool("audit.archive.enabled")
	cfg.Audit.Archive.SQLitePath = m.viper.GetString("audit.archive.sqlite_path")

	// Tools
	cfg.Tools.RateLimit = m.viper.GetFloat64("tools.rate_limit")
	cfg.Tools.Burst = m.viper.GetInt("tools.burst")
	cfg.Tools.DefaultAuditLimit = m.viper.GetInt("tools.default_audit_limit")
	cfg.Tools.Disabled = m.viper.GetStringSlice("tools.disabled")
	cfg.Tools.RecoveryEstimateSeconds = m.viper.GetInt("tools.recovery_estimate_seconds")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	return cfg
}
