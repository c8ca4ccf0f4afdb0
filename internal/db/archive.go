package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
)

// ArchiveSink mirrors audit trail entries into a Store.
type ArchiveSink struct {
	store Store
}

// NewArchiveSink wraps store as an audit.Sink. Closing the sink closes the
// store.
func NewArchiveSink(store Store) *ArchiveSink {
	return &ArchiveSink{store: store}
}

// Write implements audit.Sink.
func (a *ArchiveSink) Write(ctx context.Context, e audit.Entry) error {
	rec, err := RecordFromEntry(e)
	if err != nil {
		return err
	}
	return a.store.AppendAuditEntry(ctx, rec)
}

// Close implements audit.Sink.
func (a *ArchiveSink) Close() error {
	return a.store.Close()
}

// RecordFromEntry converts a trail entry to its archived form.
func RecordFromEntry(e audit.Entry) (*AuditRecord, error) {
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details of %s: %w", e.ID, err)
		}
		details = string(b)
	}
	return &AuditRecord{
		ID:        e.ID,
		Action:    e.Action,
		Target:    e.Target,
		Result:    string(e.Result),
		Details:   details,
		Timestamp: e.Timestamp,
	}, nil
}

// Entry converts an archived record back to a trail entry. Numeric detail
// values come back as float64.
func (r *AuditRecord) Entry() (audit.Entry, error) {
	e := audit.NewEntry(r.Action, r.Target, audit.Outcome(r.Result))
	e.ID = r.ID
	e.Timestamp = r.Timestamp
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &e.Details); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal details of %s: %w", r.ID, err)
		}
	}
	return e, nil
}
