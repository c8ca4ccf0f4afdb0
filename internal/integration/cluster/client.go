package cluster

// Package cluster is the Kubernetes collaborator behind the remediation
// tools. It performs the two mutations the guardrail can approve (setting a
// Deployment's replica count and deleting a Pod) and reads current replica
// counts for dry runs.
//
// Every call goes through the same path: rate limiter, circuit breaker,
// per-call timeout, then retry on 5xx/429. Conflicts during a scale are
// retried separately with a fresh read.

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"

	"github.com/kubilitics/kubilitics-guardrail/internal/metrics"
)

// Client wraps client-go for guardrail-approved mutations.
type Client struct {
	clientset kubernetes.Interface
	context   string

	timeout     time.Duration
	limiter     *rate.Limiter
	maxAttempts int
	backoff     backoffPolicy
	breaker     *CircuitBreaker
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each outbound API call; 0 means the request context only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLimiter rate-limits outbound API calls. Nil means no limit.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry sets the attempt count and backoff for transient API errors.
// Non-positive delays keep the defaults.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		if initial > 0 {
			c.backoff.initial = initial
		}
		if max > 0 {
			c.backoff.max = max
		}
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a client from a kubeconfig file and context. With an empty
// path it tries in-cluster config first, then ~/.kube/config.
func NewClient(kubeconfigPath, kubeContext string, opts ...Option) (*Client, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
	}

	if config == nil {
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
			&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	c := NewClientWithClientset(clientset, opts...)
	c.context = kubeContext
	return c, nil
}

// NewClientWithClientset wraps an existing clientset.
func NewClientWithClientset(clientset kubernetes.Interface, opts ...Option) *Client {
	c := &Client{
		clientset:   clientset,
		maxAttempts: defaultRetryAttempts,
		backoff:     backoffPolicy{initial: defaultInitialDelay, max: defaultMaxDelay},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(0, 0)
	}
	c.logger = c.logger.Named("cluster")
	return c
}

// Context returns the kubeconfig context in use, if any.
func (c *Client) Context() string {
	return c.context
}

// ApplyScale sets the Deployment's replica count and returns the count it had
// before the update.
func (c *Client) ApplyScale(ctx context.Context, namespace, name string, replicas int) (int, error) {
	if replicas < 0 || replicas > math.MaxInt32 {
		return 0, fmt.Errorf("replica count %d out of range", replicas)
	}
	var previous int
	err := c.mutate(ctx, "scale", func(ctx context.Context) error {
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			deployments := c.clientset.AppsV1().Deployments(namespace)
			dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			previous = replicasOf(dep)
			n := int32(replicas)
			dep.Spec.Replicas = &n
			_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("scale deployment %s/%s: %w", namespace, name, err)
	}

	c.logger.Info("deployment scaled",
		zap.String("namespace", namespace),
		zap.String("deployment", name),
		zap.Int("previous_replicas", previous),
		zap.Int("new_replicas", replicas),
	)
	return previous, nil
}

// DeletePod deletes the pod; its owning controller is expected to recreate it.
func (c *Client) DeletePod(ctx context.Context, namespace, name string) error {
	err := c.mutate(ctx, "delete_pod", func(ctx context.Context) error {
		return c.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	})
	if err != nil {
		return fmt.Errorf("delete pod %s/%s: %w", namespace, name, err)
	}

	c.logger.Info("pod deleted",
		zap.String("namespace", namespace),
		zap.String("pod", name),
	)
	return nil
}

// CurrentReplicas returns the Deployment's desired replica count.
func (c *Client) CurrentReplicas(ctx context.Context, namespace, name string) (int, error) {
	var replicas int
	err := c.call(ctx, func(ctx context.Context) error {
		dep, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		replicas = replicasOf(dep)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get deployment %s/%s: %w", namespace, name, err)
	}
	return replicas, nil
}

// mutate wraps call with duration metrics.
func (c *Client) mutate(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := c.call(ctx, fn)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ClusterMutationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	return err
}

func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.breaker.Execute(func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return doWithRetry(ctx, c.maxAttempts, c.backoff, fn)
	})
}

// withTimeout returns ctx with timeout applied if c.timeout > 0; otherwise
// returns ctx and a no-op cancel.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// replicasOf treats an unset spec.replicas as the API default of 1.
func replicasOf(dep *appsv1.Deployment) int {
	if dep.Spec.Replicas == nil {
		return 1
	}
	return int(*dep.Spec.Replicas)
}
