package cluster

import (
	"errors"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %v", cb.State())
	}
	if cb.threshold != 5 || cb.openFor != 30*time.Second {
		t.Errorf("Expected defaults 5/30s, got %d/%v", cb.threshold, cb.openFor)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	transient := apierrors.NewInternalError(errors.New("boom"))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return transient })
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after 3 failures, got %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Expected fast failure while open, got err=%v called=%v", err, called)
	}

	now = now.Add(time.Minute)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	transient := apierrors.NewServiceUnavailable("down")
	_ = cb.Execute(func() error { return transient })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return transient })

	if cb.State() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_DefinitiveErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	notFound := apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, "ghost")
	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return notFound })
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after NotFound errors, got %v", cb.State())
	}
}

func TestBackoffPolicy(t *testing.T) {
	b := backoffPolicy{initial: 100 * time.Millisecond, max: 2 * time.Second}
	want := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond, 2 * time.Second, 2 * time.Second}
	for attempt, w := range want {
		if got := b.delay(attempt); got != w {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}
