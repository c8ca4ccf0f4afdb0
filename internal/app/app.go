// Package app wires the guardrail service from configuration.
//
// Startup order:
//   1. Compile the guardrail ruleset (malformed patterns fail here)
//   2. Open audit sinks (rotating file, SQLite archive) and the trail
//   3. Build the cluster client when cluster.enabled is set
//   4. Build the executor, the tool facade and the HTTP transport
//
// Shutdown runs in reverse: the HTTP listener stops first, then the trail is
// closed, which drains the mirror queue and closes every sink.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/client-go/kubernetes"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
	"github.com/kubilitics/kubilitics-guardrail/internal/config"
	"github.com/kubilitics/kubilitics-guardrail/internal/db"
	"github.com/kubilitics/kubilitics-guardrail/internal/integration/cluster"
	mcpserver "github.com/kubilitics/kubilitics-guardrail/internal/mcp/server"
	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
	"github.com/kubilitics/kubilitics-guardrail/internal/server"
)

// App holds the wired components.
type App struct {
	Ruleset  *policy.Ruleset
	Trail    *audit.Trail
	Archive  db.Store
	Cluster  *cluster.Client
	Executor *execution.ExecutionTools
	Tools    *mcpserver.Server
	HTTP     *server.Server

	logger *zap.Logger
}

// Option customizes wiring.
type Option func(*options)

type options struct {
	clientset kubernetes.Interface
}

// WithClientset uses clientset instead of building one from kubeconfig. It
// only applies when cluster.enabled is set.
func WithClientset(clientset kubernetes.Interface) Option {
	return func(o *options) { o.clientset = clientset }
}

// New builds every component from cfg. Nothing listens until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{logger: logger}

	a.Ruleset, err = policy.NewRuleset(cfg.Rules())
	if err != nil {
		return nil, fmt.Errorf("invalid guardrail policy: %w", err)
	}

	sinks, err := a.openSinks(cfg)
	if err != nil {
		return nil, err
	}
	trailOpts := []audit.TrailOption{audit.WithLogger(logger.Named("audit"))}
	if len(sinks) > 0 {
		trailOpts = append(trailOpts, audit.WithSinks(cfg.Audit.MirrorBuffer, sinks...))
	}
	a.Trail = audit.NewTrail(trailOpts...)
	defer func() {
		if err != nil {
			_ = a.Trail.Close()
		}
	}()

	execOpts := execution.Options{
		Logger:           logger,
		RecoveryEstimate: cfg.RecoveryEstimate(),
	}
	if cfg.Cluster.Enabled {
		a.Cluster, err = newClusterClient(cfg, logger, o.clientset)
		if err != nil {
			return nil, err
		}
		execOpts.Mutator = a.Cluster
		execOpts.Reader = a.Cluster
	}

	a.Executor, err = execution.NewExecutionTools(a.Ruleset, a.Trail, execOpts)
	if err != nil {
		return nil, err
	}

	a.Tools, err = mcpserver.NewServer(a.Executor, a.Trail, a.Ruleset, mcpserver.Options{
		Logger:            logger,
		RateLimit:         cfg.Tools.RateLimit,
		Burst:             cfg.Tools.Burst,
		DefaultAuditLimit: cfg.Tools.DefaultAuditLimit,
		DisabledTools:     cfg.Tools.Disabled,
	})
	if err != nil {
		return nil, err
	}

	var archive db.AuditStore
	if a.Archive != nil {
		archive = a.Archive
	}
	a.HTTP, err = server.NewServer(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout:    seconds(cfg.Server.WriteTimeoutSeconds),
		ShutdownTimeout: seconds(cfg.Server.ShutdownTimeoutSeconds),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, a.Tools, archive, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("guardrail service wired",
		zap.Strings("protected_namespaces", cfg.Guardrail.ProtectedNamespaces),
		zap.Strings("protected_name_patterns", cfg.Guardrail.ProtectedNamePatterns),
		zap.Int("min_replicas", cfg.Guardrail.MinReplicas),
		zap.Bool("cluster_enabled", cfg.Cluster.Enabled),
		zap.Int("audit_sinks", len(sinks)),
	)
	return a, nil
}

func (a *App) openSinks(cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if cfg.Audit.File.Enabled {
		fileSink, err := audit.NewFileSink(&audit.FileConfig{
			Path:       cfg.Audit.File.Path,
			MaxSize:    cfg.Audit.File.MaxSizeMB,
			MaxBackups: cfg.Audit.File.MaxBackups,
			MaxAge:     cfg.Audit.File.MaxAgeDays,
			Compress:   cfg.Audit.File.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		sinks = append(sinks, fileSink)
	}

	if cfg.Audit.Archive.Enabled {
		store, err := db.NewSQLiteStore(cfg.Audit.Archive.SQLitePath)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("failed to open audit archive: %w", err)
		}
		a.Archive = store
		sinks = append(sinks, db.NewArchiveSink(store))
	}

	return sinks, nil
}

func newClusterClient(cfg *config.Config, logger *zap.Logger, clientset kubernetes.Interface) (*cluster.Client, error) {
	opts := []cluster.Option{
		cluster.WithLogger(logger),
		cluster.WithTimeout(cfg.ClusterTimeout()),
		cluster.WithRetry(cfg.Cluster.RetryAttempts, 0, 0),
		cluster.WithCircuitBreaker(cluster.NewCircuitBreaker(
			cfg.Cluster.BreakerThreshold,
			seconds(cfg.Cluster.BreakerOpenSeconds),
		)),
	}
	if cfg.Cluster.QPS > 0 {
		opts = append(opts, cluster.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Cluster.QPS), cfg.Cluster.Burst)))
	}

	if clientset != nil {
		return cluster.NewClientWithClientset(clientset, opts...), nil
	}
	client, err := cluster.NewClient(cfg.Cluster.Kubeconfig, cfg.Cluster.Context, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster client: %w", err)
	}
	return client, nil
}

// Start starts the HTTP transport.
func (a *App) Start() error {
	return a.HTTP.Start()
}

// Stop stops the transport, then drains and closes the audit trail.
func (a *App) Stop() error {
	var firstErr error
	if a.HTTP.IsRunning() {
		if err := a.HTTP.Stop(); err != nil {
			firstErr = err
		}
	}
	if err := a.Trail.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.logger.Info("guardrail service stopped", zap.Int("audit_entries", a.Trail.TotalCount()))
	return firstErr
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
