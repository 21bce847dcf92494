// Package edits tracks field-level user modifications against fetched rows
// without mutating source data, and commits pending changes record by
// record.
package edits

import (
	"fmt"
	"sync"
)

// Tracker holds pending edits for one session: record id to field path to
// new value. A record with no remaining changed fields has no entry at all,
// so "has pending edits" is map non-emptiness.
type Tracker struct {
	mu      sync.Mutex
	changes map[string]map[string]any
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{changes: make(map[string]map[string]any)}
}

// changed applies the edit equality policy: a nil original is changed only
// by a non-nil, non-empty-string value; otherwise the string representations
// of original and new value are compared. String comparison tolerates type
// coercion from editable UI controls (a numeric field edited via a text
// box compares equal to its original).
func changed(newValue, originalValue any) bool {
	if originalValue == nil {
		if newValue == nil {
			return false
		}
		if s, ok := newValue.(string); ok && s == "" {
			return false
		}
		return true
	}
	return fmt.Sprint(originalValue) != fmt.Sprint(newValue)
}

// SetField records or clears one pending field edit depending on whether
// newValue differs from originalValue under the equality policy. It never
// stores a no-op change.
func (t *Tracker) SetField(recordID, fieldPath string, newValue, originalValue any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !changed(newValue, originalValue) {
		t.clearFieldLocked(recordID, fieldPath)
		return
	}

	rec, ok := t.changes[recordID]
	if !ok {
		rec = make(map[string]any)
		t.changes[recordID] = rec
	}
	rec[fieldPath] = newValue
}

// ClearField drops one pending field edit.
func (t *Tracker) ClearField(recordID, fieldPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearFieldLocked(recordID, fieldPath)
}

func (t *Tracker) clearFieldLocked(recordID, fieldPath string) {
	rec, ok := t.changes[recordID]
	if !ok {
		return
	}
	delete(rec, fieldPath)
	if len(rec) == 0 {
		delete(t.changes, recordID)
	}
}

// ClearRecord drops all pending edits for one record.
func (t *Tracker) ClearRecord(recordID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.changes, recordID)
}

// ClearAll drops every pending edit.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = make(map[string]map[string]any)
}

// Record returns a copy of the pending edits for one record, or nil.
func (t *Tracker) Record(recordID string) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.changes[recordID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Changes returns a deep copy of all pending edits.
func (t *Tracker) Changes() map[string]map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]map[string]any, len(t.changes))
	for id, rec := range t.changes {
		cp := make(map[string]any, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

// HasChanges reports whether any edit is pending.
func (t *Tracker) HasChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes) > 0
}

// Len returns the number of records with pending edits.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes)
}
