package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
	"github.com/kubilitics/kubilitics-guardrail/internal/metrics"
	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
	"github.com/kubilitics/kubilitics-guardrail/internal/safety/policy"
)

var (
	// ErrToolNotFound is returned for unknown or disabled tools.
	ErrToolNotFound = errors.New("tool not found")

	// ErrRateLimited is returned when the tool call rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Executor runs guardrail-gated remediation actions.
type Executor interface {
	Scale(ctx context.Context, target policy.Target, replicas int, dryRun bool) (*execution.Result, error)
	Restart(ctx context.Context, target policy.Target, dryRun bool) (*execution.Result, error)
}

// AuditReader exposes the read side of the audit trail.
type AuditReader interface {
	Tail(limit int) []audit.Entry
	TotalCount() int
}

// PolicyDescriber reports the effective guardrail rules.
type PolicyDescriber interface {
	Describe() policy.Rules
}

// Options configures the service facade.
type Options struct {
	Logger *zap.Logger

	// RateLimit is the sustained tool calls per second; 0 disables limiting.
	RateLimit float64
	Burst     int

	// DefaultAuditLimit is used by get_audit_log when no limit is given.
	DefaultAuditLimit int

	// DisabledTools are hidden from ListTools and rejected by ExecuteTool.
	DisabledTools []string
}

// Server is the service facade over the executor and the audit trail.
type Server struct {
	executor Executor
	trail    AuditReader
	policy   PolicyDescriber
	logger   *zap.Logger
	limiter  *rate.Limiter

	defaultAuditLimit int

	mu           sync.RWMutex
	handlers     map[string]toolHandler
	enabledTools map[string]bool
	stats        Stats
}

// Stats tracks facade call statistics.
type Stats struct {
	TotalRequests   int64            `json:"total_requests"`
	SuccessfulCalls int64            `json:"successful_calls"`
	FailedCalls     int64            `json:"failed_calls"`
	RateLimited     int64            `json:"rate_limited"`
	ToolUsage       map[string]int64 `json:"tool_usage"`
	// AverageLatency is in milliseconds.
	AverageLatency float64 `json:"average_latency_ms"`
}

// NewServer creates the facade. describer may be nil, in which case
// describe_policy is not registered.
func NewServer(executor Executor, trail AuditReader, describer PolicyDescriber, opts Options) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auditLimit := opts.DefaultAuditLimit
	if auditLimit <= 0 {
		auditLimit = DefaultAuditLimit
	}

	s := &Server{
		executor:          executor,
		trail:             trail,
		policy:            describer,
		logger:            logger.Named("facade"),
		defaultAuditLimit: auditLimit,
		handlers:          make(map[string]toolHandler),
		enabledTools:      make(map[string]bool),
		stats:             Stats{ToolUsage: make(map[string]int64)},
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.registerTools()
	for _, name := range opts.DisabledTools {
		if err := s.DisableTool(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

const unknownToolLabel = "unknown"

// ExecuteTool runs a tool by name with JSON-decoded arguments.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	s.mu.Lock()
	handler, exists := s.handlers[name]
	enabled := s.enabledTools[name]
	s.stats.TotalRequests++
	if exists {
		s.stats.ToolUsage[name]++
	}
	s.mu.Unlock()

	// Names come from callers; unregistered ones share one metric label.
	if !exists {
		s.finish(unknownToolLabel, "not_found", 0, false)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if !enabled {
		s.finish(name, "disabled", 0, false)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.mu.Lock()
		s.stats.RateLimited++
		s.mu.Unlock()
		s.finish(name, "rate_limited", 0, false)
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, name)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	result, err := handler.run(ctx, args)
	elapsed := time.Since(start)
	metrics.ToolDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, execution.ErrInvalidInput) {
			status = "invalid_input"
		}
		s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		s.finish(name, status, elapsed, false)
		return nil, err
	}

	s.finish(name, "success", elapsed, true)
	return result, nil
}

func (s *Server) finish(tool, status string, elapsed time.Duration, ok bool) {
	metrics.ToolCalls.WithLabelValues(tool, status).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.stats.FailedCalls++
		return
	}
	n := float64(s.stats.SuccessfulCalls)
	s.stats.SuccessfulCalls++
	ms := float64(elapsed.Microseconds()) / 1000
	s.stats.AverageLatency = (s.stats.AverageLatency*n + ms) / (n + 1)
}

// ListTools returns the enabled tools sorted by name.
func (s *Server) ListTools() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	available := make([]ToolDefinition, 0, len(s.handlers))
	for name, h := range s.handlers {
		if s.enabledTools[name] {
			available = append(available, h.definition)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].Name < available[j].Name })
	return available
}

// GetStats returns a copy of the facade statistics.
func (s *Server) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statsCopy := s.stats
	statsCopy.ToolUsage = make(map[string]int64, len(s.stats.ToolUsage))
	for k, v := range s.stats.ToolUsage {
		statsCopy.ToolUsage[k] = v
	}
	return statsCopy
}

// EnableTool enables a registered tool.
func (s *Server) EnableTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	s.enabledTools[name] = true
	return nil
}

// DisableTool disables a registered tool.
func (s *Server) DisableTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	s.enabledTools[name] = false
	return nil
}
