package undo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	current map[int]map[string]any
	applied map[int]map[string]any
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{current: map[int]map[string]any{}, applied: map[int]map[string]any{}}
}

func (w *fakeWriter) CurrentValues(_ context.Context, _ string, id int, fields []string) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range w.current[id] {
		out[k] = v
	}
	return out, nil
}

func (w *fakeWriter) ApplyValues(_ context.Context, _ string, id int, values map[string]any) error {
	if w.applied[id] == nil {
		w.applied[id] = map[string]any{}
	}
	for k, v := range values {
		w.applied[id][k] = v
		w.current[id][k] = v
	}
	return nil
}

func TestJournal_AppendAndByOperation(t *testing.T) {
	j := NewMemory()
	ctx := context.Background()
	entry := Entry{OperationID: "op1", HandleID: "qh_a", Actor: "alice", Kind: "update-fields", Timestamp: time.Now()}
	require.NoError(t, j.Append(ctx, entry))

	got, ok, err := j.ByOperation(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", got.Actor)

	_, ok, err = j.ByOperation(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJournal_ByHandleMostRecentFirst(t *testing.T) {
	j := NewMemory()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, j.Append(ctx, Entry{OperationID: "op1", HandleID: "qh_a", Timestamp: base}))
	require.NoError(t, j.Append(ctx, Entry{OperationID: "op2", HandleID: "qh_a", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, j.Append(ctx, Entry{OperationID: "op3", HandleID: "qh_b", Timestamp: base.Add(2 * time.Minute)}))

	entries, err := j.ByHandle(ctx, "qh_a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "op2", entries[0].OperationID)
	require.Equal(t, "op1", entries[1].OperationID)
}

func TestApplier_UndoOperation_RestoresPreviousValues(t *testing.T) {
	j := NewMemory()
	w := newFakeWriter()
	w.current[1] = map[string]any{"System.State": "Closed"}
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, Entry{
		OperationID: "op1", HandleID: "qh_a", Actor: "alice", Kind: "transition-state",
		Affected: []AffectedItem{{ID: 1, PreviousValues: map[string]any{"System.State": "Active"}, NewValues: map[string]any{"System.State": "Closed"}}},
	}))

	a := &Applier{Journal: j, Writer: w, Project: "proj"}
	res, err := a.UndoOperation(ctx, "op1")
	require.NoError(t, err)
	require.Equal(t, []int{1}, res.Applied)
	require.Empty(t, res.Skipped)
	require.Equal(t, "Active", w.current[1]["System.State"])
}

func TestApplier_UndoOperation_SkipsDivergedItem(t *testing.T) {
	j := NewMemory()
	w := newFakeWriter()
	w.current[1] = map[string]any{"System.State": "Resolved"} // someone else changed it after Closed
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, Entry{
		OperationID: "op1", HandleID: "qh_a",
		Affected: []AffectedItem{{ID: 1, PreviousValues: map[string]any{"System.State": "Active"}, NewValues: map[string]any{"System.State": "Closed"}}},
	}))

	a := &Applier{Journal: j, Writer: w, Project: "proj"}
	res, err := a.UndoOperation(ctx, "op1")
	require.NoError(t, err)
	require.Empty(t, res.Applied)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, 1, res.Skipped[0].ID)
}

func TestApplier_ForensicUndo_MergesPerIDLatestWriterWins(t *testing.T) {
	j := NewMemory()
	w := newFakeWriter()
	w.current[1] = map[string]any{"System.State": "Closed", "System.Tags": "urgent"}
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, j.Append(ctx, Entry{
		OperationID: "op1", Actor: "bob", Timestamp: base,
		Affected: []AffectedItem{{ID: 1,
			PreviousValues: map[string]any{"System.State": "Active"},
			NewValues:      map[string]any{"System.State": "Resolved"},
		}},
	}))
	require.NoError(t, j.Append(ctx, Entry{
		OperationID: "op2", Actor: "bob", Timestamp: base.Add(time.Minute),
		Affected: []AffectedItem{{ID: 1,
			PreviousValues: map[string]any{"System.State": "Resolved"},
			NewValues:      map[string]any{"System.State": "Closed"},
		}},
	}))

	a := &Applier{Journal: j, Writer: w, Project: "proj"}
	res, err := a.ForensicUndo(ctx, "bob", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []int{1}, res.Applied)
	require.Equal(t, "Active", w.current[1]["System.State"])
}

func TestApplier_ForensicUndo_NoEntries(t *testing.T) {
	j := NewMemory()
	a := &Applier{Journal: j, Writer: newFakeWriter(), Project: "proj"}
	_, err := a.ForensicUndo(context.Background(), "nobody", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
}

func TestNewOperationID_Unique(t *testing.T) {
	a := NewOperationID()
	b := NewOperationID()
	require.NotEqual(t, a, b)
	require.NotEmpty(t, a)
}
