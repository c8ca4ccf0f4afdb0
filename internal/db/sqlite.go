package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Schema migrations, applied in order. The applied version is kept in
// PRAGMA user_version.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS audit_entries (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    action      TEXT NOT NULL,
    target      TEXT NOT NULL,
    result      TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT '{}',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_target ON audit_entries(target);
CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
`,
	},
	// Migration 2: result filter for BLOCKED / FAILED reporting
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_audit_entries_result ON audit_entries(result);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite %q: %w", path, err)
	}
	// A single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite %q: journal mode: %w", path, err)
	}

	store := &sqliteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// migrate runs every migration above PRAGMA user_version, each in its own
// transaction together with the version bump.
func (s *sqliteStore) migrate() error {
	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Audit entries ────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEntry(ctx context.Context, rec *AuditRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("audit record id is required")
	}
	details := rec.Details
	if details == "" {
		details = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO audit_entries(id, action, target, result, details, timestamp)
        VALUES(?,?,?,?,?,?)
    `,
		rec.ID, rec.Action, rec.Target, rec.Result, details, formatTime(rec.Timestamp),
	)
	return err
}

func (s *sqliteStore) QueryAuditEntries(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT seq,id,action,target,result,details,timestamp FROM audit_entries WHERE 1=1`
	args := []any{}

	if q.Target != "" {
		query += ` AND target = ?`
		args = append(args, q.Target)
	}
	if q.Action != "" {
		query += ` AND action = ?`
		args = append(args, q.Action)
	}
	if q.Result != "" {
		query += ` AND result = ?`
		args = append(args, q.Result)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, formatTime(q.To))
	}
	query += ` ORDER BY seq DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*AuditRecord{}
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Action, &rec.Target, &rec.Result, &rec.Details, &ts); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) CountAuditEntries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	return n, err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timestampLayout is fixed width so that stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTime reads timestamps written by formatTime. RFC 3339 is accepted for
// rows inserted by hand.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid audit timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
