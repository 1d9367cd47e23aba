package messages

import (
	"encoding/json"
	"time"
)

// Change-feed operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is the wire message emitted on fleet.changes.<table>
// whenever a record of the remote store is mutated. Before/After are
// the full records as raw JSON; consumers decode and validate them at
// their own boundary. Delivery order is best-effort only, so applying
// a ChangeEvent must be idempotent.
type ChangeEvent struct {
	Table string `json:"table"`
	Op    string `json:"op"`

	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// RecordID extracts the id of the record the event refers to:
// After for inserts/updates, Before for deletes. Empty string when the
// payload is malformed.
func (e ChangeEvent) RecordID() string {
	var probe struct {
		ID string `json:"id"`
	}
	raw := e.After
	if e.Op == OpDelete {
		raw = e.Before
	}
	if len(raw) == 0 {
		return ""
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
