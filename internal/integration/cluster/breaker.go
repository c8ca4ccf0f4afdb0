package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-guardrail/internal/metrics"
)

// ErrCircuitOpen is returned when the cluster API has failed repeatedly and
// calls are being rejected without reaching it.
var ErrCircuitOpen = errors.New("circuit breaker is open: cluster API unavailable")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateOpen                         // Failing fast
	StateHalfOpen                     // Probing for recovery
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after threshold consecutive transient failures and
// lets a single probe through once openFor has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	openFor   time.Duration
	now       func() time.Time

	state       BreakerState
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall back
// to 5 failures and 30 seconds.
func NewCircuitBreaker(threshold int, openFor time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	metrics.ClusterCircuitState.Set(float64(StateClosed))
	return &CircuitBreaker{
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.openFor {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.probeActive = true
	case StateHalfOpen:
		if cb.probeActive {
			return ErrCircuitOpen
		}
		cb.probeActive = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeActive = false
	if err != nil && isTransient(err) {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.setState(StateOpen)
			cb.openedAt = cb.now()
		}
		return
	}

	// Success or a definitive answer (404, 403, 409) means the API is up.
	cb.failures = 0
	if cb.state != StateClosed {
		cb.setState(StateClosed)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	metrics.ClusterCircuitTransitions.WithLabelValues(cb.state.String(), s.String()).Inc()
	metrics.ClusterCircuitState.Set(float64(s))
	cb.state = s
}

func isTransient(err error) bool {
	return isRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}
