package db

import (
	"context"
	"time"
)

// Store is the persistence interface for the guardrail audit archive.
type Store interface {
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Audit store ──────────────────────────────────────────────────────────────

// AuditRecord is an archived copy of an audit trail entry.
type AuditRecord struct {
	// Seq is the archive row number, increasing in insertion order.
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Result    string    `json:"result"`
	Details   string    `json:"details"` // JSON object
	Timestamp time.Time `json:"timestamp"`
}

// AuditStore persists audit entries beyond the process lifetime.
type AuditStore interface {
	// AppendAuditEntry appends an immutable audit record. Appending an ID that
	// is already archived is a no-op.
	AppendAuditEntry(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEntries retrieves archived records, newest first.
	QueryAuditEntries(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)

	// CountAuditEntries returns the number of archived records.
	CountAuditEntries(ctx context.Context) (int, error)
}

// AuditQuery filters audit archive queries. Zero values match everything.
type AuditQuery struct {
	Target string
	Action string
	Result string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}
