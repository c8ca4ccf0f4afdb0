package audit

import "time"

// Outcome is the recorded result of a guarded action.
type Outcome string

const (
	OutcomeBlocked  Outcome = "BLOCKED"
	OutcomeDryRun   Outcome = "DRY-RUN"
	OutcomeExecuted Outcome = "EXECUTED"
	OutcomeFailed   Outcome = "FAILED"
)

// Entry is a single audit trail record. Entries are immutable once appended;
// the trail hands out copies.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Target    string                 `json:"target"`
	Result    Outcome                `json:"result"`
	Details   map[string]interface{} `json:"details"`
}

// NewEntry creates an entry for action on target with the given outcome.
// ID and Timestamp are assigned by the trail on append.
func NewEntry(action, target string, result Outcome) Entry {
	return Entry{
		Action:  action,
		Target:  target,
		Result:  result,
		Details: make(map[string]interface{}),
	}
}

// WithDetail returns a copy of the entry with key set to value. Values should
// be scalars (string, bool, numbers).
func (e Entry) WithDetail(key string, value interface{}) Entry {
	out := e.clone()
	out.Details[key] = value
	return out
}

func (e Entry) clone() Entry {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	e.Details = details
	return e
}
