// Package undo implements the Undo Journal (spec §4.5): an append-only
// ordered log of Undo Entries, supporting undo-by-handle/operation and
// forensic undo by actor and time window. MemoryJournal indexes entries by
// operation id only; handle and actor/window lookups scan the log.
package undo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AffectedItem is one work item touched by an operation, with the field
// values read before the write and the values written (spec §3.4).
type AffectedItem struct {
	ID             int
	PreviousValues map[string]any
	NewValues      map[string]any
}

func (a AffectedItem) clone() AffectedItem {
	out := a
	out.PreviousValues = cloneMap(a.PreviousValues)
	out.NewValues = cloneMap(a.NewValues)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Entry is one journal record: the result of a single bulk operation call
// (spec §3.4).
type Entry struct {
	OperationID string
	Timestamp   time.Time
	Actor       string
	Kind        string // action kind, e.g. "update-fields", "add-tag"
	HandleID    string
	Affected    []AffectedItem
	// Restorable is false for actions (like remove, when ADO offers no
	// restore endpoint) the journal can record but cannot mechanically
	// invert. The Applier does not consult it: it attempts the inverse write
	// for every entry, and a failed write is reported in Result.Errors.
	Restorable bool
}

func (e Entry) clone() Entry {
	out := e
	out.Affected = make([]AffectedItem, len(e.Affected))
	for i, a := range e.Affected {
		out.Affected[i] = a.clone()
	}
	return out
}

// NewOperationID generates an opaque operation id. Unlike query handle ids,
// operation ids carry no anti-structure requirement, so a standard UUID is
// the natural fit.
func NewOperationID() string {
	return uuid.NewString()
}

// Journal is the append-only store undo and forensic-undo tools read.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	ByOperation(ctx context.Context, operationID string) (Entry, bool, error)
	ByHandle(ctx context.Context, handleID string) ([]Entry, error)
	ByActorWindow(ctx context.Context, actor string, from, to time.Time) ([]Entry, error)
}

// MemoryJournal is the default in-process Journal: an ordered slice guarded
// by a mutex, with a secondary index by operation id into the same backing
// entries.
type MemoryJournal struct {
	mu        sync.Mutex
	entries   []Entry
	byOpIndex map[string]int
}

// NewMemory constructs an empty MemoryJournal.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{byOpIndex: make(map[string]int)}
}

// Append records entry. Timestamp and OperationID are taken as given by the
// caller (the Bulk Engine stamps them) rather than assigned here, so tests
// can supply deterministic values.
func (j *MemoryJournal) Append(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry.clone())
	j.byOpIndex[entry.OperationID] = len(j.entries) - 1
	return nil
}

// ByOperation returns the entry with the given operation id, if any.
func (j *MemoryJournal) ByOperation(_ context.Context, operationID string) (Entry, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	idx, ok := j.byOpIndex[operationID]
	if !ok {
		return Entry{}, false, nil
	}
	return j.entries[idx].clone(), true, nil
}

// ByHandle returns every entry for handleID, most recent first (the order
// undo-by-handle walks to apply inverse writes, per spec §4.5).
func (j *MemoryJournal) ByHandle(_ context.Context, handleID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].HandleID == handleID {
			out = append(out, j.entries[i].clone())
		}
	}
	return out, nil
}

// ByActorWindow returns every entry by actor with Timestamp in [from, to],
// ordered oldest to newest for deterministic replay of inverse writes.
func (j *MemoryJournal) ByActorWindow(_ context.Context, actor string, from, to time.Time) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Actor != actor {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Timestamp.Before(out[k].Timestamp) })
	return out, nil
}
