package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/kubilitics/kubilitics-guardrail/internal/app"
	"github.com/kubilitics/kubilitics-guardrail/internal/config"
	"github.com/kubilitics/kubilitics-guardrail/internal/logging"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
	"github.com/kubilitics/kubilitics-guardrail/internal/version"
)

type cli struct {
	configPath string
	output     string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "guardrail",
		Short:         "Policy-gated remediation service for Kubernetes",
		Long:          "guardrail evaluates scale and restart requests against protected namespaces, protected names and a replica floor, records every decision in an audit trail and only then touches the cluster.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultConfigPath, "path to the YAML config file")
	cmd.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "output format for policy and evaluate: json or yaml")

	cmd.AddCommand(
		c.newServeCmd(),
		c.newPolicyCmd(),
		c.newEvaluateCmd(),
		c.newVersionCmd(),
	)
	return cmd
}

// load reads and validates configuration.
func (c *cli) load(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the guardrail HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr, cfg, err := c.load(ctx)
			if err != nil {
				return err
			}

			logger, level, err := logging.NewWithWriter(cfg.Logging.Level, cfg.Logging.Format, c.stderr)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting guardrail service",
				zap.String("version", version.Version),
				zap.String("config_file", mgr.ConfigFileUsed()),
			)

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Start(); err != nil {
				_ = a.Stop()
				return err
			}

			// Only the log level is applied live; the guardrail policy is
			// fixed for the process lifetime.
			updates := mgr.Watch(ctx)
			for {
				select {
				case next := <-updates:
					if err := logging.SetLevel(level, next.Logging.Level); err != nil {
						logger.Warn("Ignoring invalid log level on reload", zap.Error(err))
						continue
					}
					logger.Info("Configuration reloaded", zap.String("log_level", next.Logging.Level))
				case <-ctx.Done():
					logger.Info("Received shutdown signal")
					return a.Stop()
				}
			}
		},
	}
}

func (c *cli) newPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective guardrail policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := policy.NewRuleset(cfg.Rules())
			if err != nil {
				return err
			}
			return c.print(rs.Describe())
		},
	}
}

func (c *cli) newEvaluateCmd() *cobra.Command {
	var (
		namespace string
		name      string
		action    string
		replicas  int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one action against the guardrail policy",
		Long:  "evaluate reports whether an action would be allowed. It never contacts the cluster and writes no audit entry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if namespace == "" || name == "" {
				return fmt.Errorf("--namespace and --name are required")
			}

			var act policy.Action
			switch policy.ActionKind(action) {
			case policy.ActionScale:
				if !cmd.Flags().Changed("replicas") {
					return fmt.Errorf("--replicas is required for scale")
				}
				act = policy.ScaleAction{Replicas: replicas}
			case policy.ActionRestart:
				act = policy.RestartAction{}
			default:
				return fmt.Errorf("unknown action %q (want %s or %s)", action, policy.ActionScale, policy.ActionRestart)
			}

			_, cfg, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := policy.NewRuleset(cfg.Rules())
			if err != nil {
				return err
			}
			return c.print(rs.Evaluate(policy.Target{Namespace: namespace, Name: name}, act))
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "target namespace")
	cmd.Flags().StringVar(&name, "name", "", "target deployment or pod name")
	cmd.Flags().StringVar(&action, "action", string(policy.ActionScale), "action kind: scale or restart")
	cmd.Flags().IntVar(&replicas, "replicas", 0, "requested replica count for scale")
	return cmd
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "guardrail %s (commit %s)\n", version.Version, version.Commit)
		},
	}
}

func (c *cli) print(v interface{}) error {
	switch c.output {
	case "json":
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", c.output)
	}
}
