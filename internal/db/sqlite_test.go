package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Audit entries ────────────────────────────────────────────────────────────

func TestAuditEntryAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*AuditRecord{
		{ID: "a1", Action: "scale", Target: "default/web-app", Result: "DRY-RUN", Details: `{"replicas":5}`, Timestamp: base},
		{ID: "a2", Action: "restart", Target: "kube-system/coredns", Result: "BLOCKED", Details: `{"reason":"protected namespace"}`, Timestamp: base.Add(time.Second)},
		{ID: "a3", Action: "scale", Target: "default/web-app", Result: "EXECUTED", Timestamp: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.AppendAuditEntry(ctx, r); err != nil {
			t.Fatalf("AppendAuditEntry %s: %v", r.ID, err)
		}
	}

	all, err := s.QueryAuditEntries(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("QueryAuditEntries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "a3" || all[2].ID != "a1" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}
	if all[2].Timestamp != base {
		t.Errorf("expected timestamp %v, got %v", base, all[2].Timestamp)
	}
	if all[0].Details != "{}" {
		t.Errorf("expected empty details object, got %q", all[0].Details)
	}

	byTarget, err := s.QueryAuditEntries(ctx, AuditQuery{Target: "default/web-app"})
	if err != nil {
		t.Fatalf("QueryAuditEntries by target: %v", err)
	}
	if len(byTarget) != 2 {
		t.Errorf("expected 2 records for default/web-app, got %d", len(byTarget))
	}

	byAction, err := s.QueryAuditEntries(ctx, AuditQuery{Action: "restart"})
	if err != nil {
		t.Fatalf("QueryAuditEntries by action: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Result != "BLOCKED" {
		t.Errorf("expected one BLOCKED restart, got %+v", byAction)
	}

	byResult, err := s.QueryAuditEntries(ctx, AuditQuery{Result: "EXECUTED"})
	if err != nil {
		t.Fatalf("QueryAuditEntries by result: %v", err)
	}
	if len(byResult) != 1 || byResult[0].ID != "a3" {
		t.Errorf("expected a3, got %+v", byResult)
	}

	window, err := s.QueryAuditEntries(ctx, AuditQuery{From: base.Add(500 * time.Millisecond), To: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("QueryAuditEntries by window: %v", err)
	}
	if len(window) != 1 || window[0].ID != "a2" {
		t.Errorf("expected a2 in window, got %+v", window)
	}

	limited, err := s.QueryAuditEntries(ctx, AuditQuery{Limit: 2})
	if err != nil {
		t.Fatalf("QueryAuditEntries limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 records, got %d", len(limited))
	}
}

func TestAuditEntryDuplicateIDIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &AuditRecord{ID: "dup", Action: "scale", Target: "default/app", Result: "DRY-RUN", Timestamp: time.Now()}
	if err := s.AppendAuditEntry(ctx, rec); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendAuditEntry(ctx, rec); err != nil {
		t.Fatalf("second append: %v", err)
	}

	n, err := s.CountAuditEntries(ctx)
	if err != nil {
		t.Fatalf("CountAuditEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestAuditEntryRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.AppendAuditEntry(context.Background(), &AuditRecord{Action: "scale"}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t).(*sqliteStore)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if want := migrations[len(migrations)-1].version; version != want {
		t.Errorf("expected schema version %d, got %d", want, version)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// ─── Archive sink ─────────────────────────────────────────────────────────────

func TestArchiveSinkMirrorsTrail(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	// Closing the trail closes the store, so record what reaches it.
	rec := &countingStore{Store: store}
	trail := audit.NewTrail(audit.WithSinks(32, NewArchiveSink(rec)))
	for i := 0; i < 5; i++ {
		trail.Append(context.Background(), audit.NewEntry("scale", fmt.Sprintf("default/app-%d", i), audit.OutcomeDryRun).
			WithDetail("replicas", i))
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("trail.Close: %v", err)
	}

	if len(rec.appended) != 5 {
		t.Fatalf("expected 5 archived records, got %d", len(rec.appended))
	}
	if rec.appended[4].Target != "default/app-4" {
		t.Errorf("expected last target default/app-4, got %s", rec.appended[4].Target)
	}
	if rec.appended[4].Details != `{"replicas":4}` {
		t.Errorf("unexpected details %s", rec.appended[4].Details)
	}
}

type countingStore struct {
	Store
	appended []*AuditRecord
}

func (c *countingStore) AppendAuditEntry(ctx context.Context, r *AuditRecord) error {
	c.appended = append(c.appended, r)
	return c.Store.AppendAuditEntry(ctx, r)
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := audit.NewEntry("restart", "default/app-pod-1234", audit.OutcomeExecuted).
		WithDetail("dry_run", false).
		WithDetail("estimated_recovery", "30s")
	entry.ID = "e1"
	entry.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	rec, err := RecordFromEntry(entry)
	if err != nil {
		t.Fatalf("RecordFromEntry: %v", err)
	}
	if err := s.AppendAuditEntry(ctx, rec); err != nil {
		t.Fatalf("AppendAuditEntry: %v", err)
	}

	got, err := s.QueryAuditEntries(ctx, AuditQuery{Limit: 1})
	if err != nil || len(got) != 1 {
		t.Fatalf("QueryAuditEntries: %v (%d records)", err, len(got))
	}
	back, err := got[0].Entry()
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if back.ID != "e1" || back.Result != audit.OutcomeExecuted || !back.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("unexpected entry %+v", back)
	}
	if back.Details["estimated_recovery"] != "30s" || back.Details["dry_run"] != false {
		t.Errorf("unexpected details %+v", back.Details)
	}
}
