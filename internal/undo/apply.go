package undo

import (
	"context"
	"fmt"
	"time"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

// ErrOperationNotFound is returned when a named operation id is unknown.
var ErrOperationNotFound = adoerrors.New(adoerrors.KindValidation, "operation not found")

// ErrNoEntriesForHandle is returned when no journal entry matches the
// requested handle, or no entry matches an actor/window query.
var ErrNoEntriesForHandle = adoerrors.New(adoerrors.KindValidation, "no matching undo entries")

// Writer is the narrow collaborator the Undo Applier needs from the ADO
// client: read current field values (to detect third-party divergence) and
// write a replacement set back.
type Writer interface {
	CurrentValues(ctx context.Context, project string, id int, fields []string) (map[string]any, error)
	ApplyValues(ctx context.Context, project string, id int, values map[string]any) error
}

// SkippedItem records why an id was not restored.
type SkippedItem struct {
	ID     int
	Reason string
}

// Result is what an undo operation reports back through the envelope.
type Result struct {
	Applied []int
	Skipped []SkippedItem
	Errors  map[int]string
}

func newResult() Result {
	return Result{Errors: make(map[int]string)}
}

// Applier restores previousValues recorded in the journal, skipping any item
// whose current value has diverged from the recorded newValues (spec §4.5:
// "skip items whose current value differs from the recorded newValues").
type Applier struct {
	Journal Journal
	Writer  Writer
	Project string
}

// UndoOperation inverts a single named operation.
func (a *Applier) UndoOperation(ctx context.Context, operationID string) (Result, error) {
	entry, ok, err := a.Journal.ByOperation(ctx, operationID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrOperationNotFound
	}
	return a.applyEntries(ctx, []Entry{entry}), nil
}

// UndoHandle inverts the most recent entry recorded for handleID, or a named
// one if operationID is non-empty.
func (a *Applier) UndoHandle(ctx context.Context, handleID, operationID string) (Result, error) {
	if operationID != "" {
		entry, ok, err := a.Journal.ByOperation(ctx, operationID)
		if err != nil {
			return Result{}, err
		}
		if !ok || entry.HandleID != handleID {
			return Result{}, ErrOperationNotFound
		}
		return a.applyEntries(ctx, []Entry{entry}), nil
	}
	entries, err := a.Journal.ByHandle(ctx, handleID)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, ErrNoEntriesForHandle
	}
	return a.applyEntries(ctx, []Entry{entries[0]}), nil
}

// ForensicUndo reconstructs an inverse plan across every entry by actor
// within [from, to]. Entries are merged per id: for each field, the most
// recently written value among matching entries determines the "new" value
// checked for divergence, and the earliest recorded previous value for that
// field is what gets restored.
func (a *Applier) ForensicUndo(ctx context.Context, actor string, from, to time.Time) (Result, error) {
	entries, err := a.Journal.ByActorWindow(ctx, actor, from, to)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, ErrNoEntriesForHandle
	}

	type fieldState struct {
		previous any
		newest   any
	}
	perItem := map[int]map[string]*fieldState{}

	// entries is oldest-to-newest (ByActorWindow's contract); walking forward
	// means each field's "newest" naturally ends up as the last writer and
	// "previous" stays pinned to the first writer's pre-image.
	for _, e := range entries {
		for _, aff := range e.Affected {
			fields := perItem[aff.ID]
			if fields == nil {
				fields = map[string]*fieldState{}
				perItem[aff.ID] = fields
			}
			for field, newVal := range aff.NewValues {
				fs, ok := fields[field]
				if !ok {
					fs = &fieldState{previous: aff.PreviousValues[field]}
					fields[field] = fs
				}
				fs.newest = newVal
			}
		}
	}

	synthetic := Entry{Actor: actor}
	for id, fields := range perItem {
		prev := map[string]any{}
		newest := map[string]any{}
		for field, fs := range fields {
			prev[field] = fs.previous
			newest[field] = fs.newest
		}
		synthetic.Affected = append(synthetic.Affected, AffectedItem{ID: id, PreviousValues: prev, NewValues: newest})
	}
	return a.applyEntries(ctx, []Entry{synthetic}), nil
}

func (a *Applier) applyEntries(ctx context.Context, entries []Entry) Result {
	result := newResult()
	for _, entry := range entries {
		for _, aff := range entry.Affected {
			if len(aff.PreviousValues) == 0 {
				continue
			}
			fields := make([]string, 0, len(aff.NewValues))
			for f := range aff.NewValues {
				fields = append(fields, f)
			}
			current, err := a.Writer.CurrentValues(ctx, a.Project, aff.ID, fields)
			if err != nil {
				result.Errors[aff.ID] = err.Error()
				continue
			}
			if diverged(current, aff.NewValues) {
				result.Skipped = append(result.Skipped, SkippedItem{ID: aff.ID, Reason: "current value differs from recorded post-image"})
				continue
			}
			if err := a.Writer.ApplyValues(ctx, a.Project, aff.ID, aff.PreviousValues); err != nil {
				result.Errors[aff.ID] = err.Error()
				continue
			}
			result.Applied = append(result.Applied, aff.ID)
		}
	}
	return result
}

// diverged reports whether any field in expected differs from current,
// meaning a third party changed the item after the recorded operation.
func diverged(current, expected map[string]any) bool {
	for field, want := range expected {
		got, ok := current[field]
		if !ok {
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return true
		}
	}
	return false
}
