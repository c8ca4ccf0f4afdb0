package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, trail *Trail, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		trail.Append(context.Background(), NewEntry("scale", fmt.Sprintf("default/app-%d", i), OutcomeDryRun).
			WithDetail("replicas", i))
	}
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trail := NewTrail(WithClock(func() time.Time { return fixed }))

	got := trail.Append(context.Background(), NewEntry("restart", "default/app", OutcomeBlocked).
		WithDetail("reason", "protected namespace"))

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, "restart", got.Action)
	assert.Equal(t, "default/app", got.Target)
	assert.Equal(t, OutcomeBlocked, got.Result)
	assert.Equal(t, "protected namespace", got.Details["reason"])
	assert.Equal(t, 1, trail.TotalCount())
}

func TestTotalCountMatchesAppends(t *testing.T) {
	trail := NewTrail()
	appendN(t, trail, 25)
	assert.Equal(t, 25, trail.TotalCount())
}

func TestTail(t *testing.T) {
	trail := NewTrail()
	appendN(t, trail, 5)

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"zero", 0, []string{}},
		{"negative", -3, []string{}},
		{"two", 2, []string{"default/app-3", "default/app-4"}},
		{"exact", 5, []string{"default/app-0", "default/app-1", "default/app-2", "default/app-3", "default/app-4"}},
		{"larger than size", 50, []string{"default/app-0", "default/app-1", "default/app-2", "default/app-3", "default/app-4"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := trail.Tail(tc.limit)
			targets := make([]string, 0, len(got))
			for _, e := range got {
				targets = append(targets, e.Target)
			}
			assert.Equal(t, tc.want, targets)
		})
	}
}

func TestTail_EmptyTrail(t *testing.T) {
	trail := NewTrail()
	assert.Empty(t, trail.Tail(10))
	assert.NotNil(t, trail.Tail(10))
}

func TestTail_ReturnsCopies(t *testing.T) {
	trail := NewTrail()
	trail.Append(context.Background(), NewEntry("scale", "default/app", OutcomeDryRun).WithDetail("replicas", 3))

	first := trail.Tail(1)
	first[0].Details["replicas"] = 99
	first[0].Target = "mutated"

	second := trail.Tail(1)
	assert.Equal(t, 3, second[0].Details["replicas"])
	assert.Equal(t, "default/app", second[0].Target)
}

func TestAppend_CopiesCallerDetails(t *testing.T) {
	trail := NewTrail()
	entry := NewEntry("scale", "default/app", OutcomeDryRun).WithDetail("replicas", 3)
	trail.Append(context.Background(), entry)

	entry.Details["replicas"] = 42
	assert.Equal(t, 3, trail.Tail(1)[0].Details["replicas"])
}

func TestTail_Idempotent(t *testing.T) {
	trail := NewTrail()
	appendN(t, trail, 7)
	assert.Equal(t, trail.Tail(4), trail.Tail(4))
}

func TestConcurrentAppends(t *testing.T) {
	trail := NewTrail()
	const workers, perWorker = 16, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				trail.Append(context.Background(), NewEntry("scale", fmt.Sprintf("ns-%d/app-%d", w, i), OutcomeDryRun))
				_ = trail.Tail(5)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, trail.TotalCount())

	all := trail.Tail(workers * perWorker)
	seen := make(map[string]bool, len(all))
	for i, e := range all {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
		if i > 0 {
			assert.False(t, e.Timestamp.Before(all[i-1].Timestamp), "entry %d out of order", i)
		}
	}
}

// ─── Mirroring ────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	closed  bool
}

func (s *recordingSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestMirror_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(WithSinks(64, sink))
	appendN(t, trail, 10)

	require.NoError(t, trail.Close())

	require.Len(t, sink.entries, 10)
	for i, e := range sink.entries {
		assert.Equal(t, fmt.Sprintf("default/app-%d", i), e.Target)
	}
	assert.True(t, sink.closed)
}

func TestMirror_SinkErrorDoesNotAffectTrail(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	trail := NewTrail(WithSinks(8, sink))
	appendN(t, trail, 3)

	require.NoError(t, trail.Close())
	assert.Equal(t, 3, trail.TotalCount())
	assert.Len(t, sink.entries, 3)
}

func TestAppendAfterClose(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(WithSinks(8, sink))
	require.NoError(t, trail.Close())
	require.NoError(t, trail.Close())

	trail.Append(context.Background(), NewEntry("scale", "default/app", OutcomeDryRun))
	assert.Equal(t, 1, trail.TotalCount())
	assert.Empty(t, sink.entries)
}
