package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-guardrail/internal/metrics"
)

// Sink receives a copy of every appended entry, for durable storage outside
// the in-memory trail.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

// DefaultMirrorBuffer is the number of entries that may wait for the sinks
// before mirror writes start being dropped.
const DefaultMirrorBuffer = 1024

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithLogger sets the logger used for mirror failures.
func WithLogger(logger *zap.Logger) TrailOption {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) TrailOption {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSinks mirrors appended entries to sinks through a queue of the given
// size. A non-positive buffer uses DefaultMirrorBuffer.
func WithSinks(buffer int, sinks ...Sink) TrailOption {
	return func(t *Trail) {
		if buffer <= 0 {
			buffer = DefaultMirrorBuffer
		}
		t.sinks = append(t.sinks, sinks...)
		t.mirrorBuffer = buffer
	}
}

// Trail is the append-only, in-memory audit trail. Insertion order is
// chronological order: timestamps are taken under the write lock.
type Trail struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool

	now    func() time.Time
	logger *zap.Logger

	sinks        []Sink
	mirrorBuffer int
	mirror       chan Entry
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

// NewTrail creates an empty trail. When sinks are configured a background
// goroutine forwards entries to them until Close is called.
func NewTrail(opts ...TrailOption) *Trail {
	t := &Trail{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("audit-trail")

	if len(t.sinks) > 0 {
		t.mirror = make(chan Entry, t.mirrorBuffer)
		t.done = make(chan struct{})
		go t.drain()
	}
	return t
}

// Append records an entry and returns the stored copy. It never fails and
// never blocks on sink I/O.
func (t *Trail) Append(ctx context.Context, e Entry) Entry {
	e = e.clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	t.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	t.entries = append(t.entries, e)
	size := len(t.entries)
	if t.mirror != nil && !t.closed {
		select {
		case t.mirror <- e.clone():
		default:
			metrics.AuditMirrorDropped.Inc()
			t.logger.Warn("audit mirror queue full, entry not mirrored",
				zap.String("id", e.ID),
				zap.String("target", e.Target),
			)
		}
	}
	t.mu.Unlock()

	metrics.AuditEntries.Set(float64(size))
	return e.clone()
}

// Tail returns the most recent min(limit, size) entries, oldest first.
// A non-positive limit returns an empty slice.
func (t *Trail) Tail(limit int) []Entry {
	if limit <= 0 {
		return []Entry{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.entries)
	if limit > n {
		limit = n
	}
	out := make([]Entry, limit)
	for i, e := range t.entries[n-limit:] {
		out[i] = e.clone()
	}
	return out
}

// TotalCount returns the number of entries appended so far.
func (t *Trail) TotalCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Close stops mirroring, waits for queued entries to reach the sinks and
// closes them. The in-memory trail stays readable and appendable.
func (t *Trail) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.mirror != nil {
			close(t.mirror)
		}
		t.mu.Unlock()

		if t.done != nil {
			<-t.done
		}

		var errs []error
		for _, s := range t.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

func (t *Trail) drain() {
	defer close(t.done)
	for e := range t.mirror {
		for _, s := range t.sinks {
			if err := s.Write(context.Background(), e); err != nil {
				t.logger.Error("failed to mirror audit entry",
					zap.String("id", e.ID),
					zap.Error(err),
				)
			}
		}
	}
}
