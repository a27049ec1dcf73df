package main

import (
	"context"
	"strings"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoclient"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/workitem"
)

// bulkUndoWriter adapts *adoclient.Client to undo.Writer, mapping the
// recorded field-name/value pairs onto the work item's JSON-patch fields
// the same way bulk.InProcessEngine does for live mutations.
type bulkUndoWriter struct {
	ado     *adoclient.Client
	project string
}

func (w bulkUndoWriter) CurrentValues(ctx context.Context, project string, id int, fields []string) (map[string]any, error) {
	items, err := w.ado.GetWorkItemsBatch(ctx, projectOr(project, w.project), []int{id}, fields)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return map[string]any{}, nil
	}
	return fieldValues(items[0], fields), nil
}

func (w bulkUndoWriter) ApplyValues(ctx context.Context, project string, id int, values map[string]any) error {
	ops := make([]adoclient.JSONPatchOp, 0, len(values))
	for field, value := range values {
		ops = append(ops, adoclient.ReplaceField(field, value))
	}
	_, err := w.ado.UpdateWorkItem(ctx, projectOr(project, w.project), id, ops)
	return err
}

func projectOr(project, fallback string) string {
	if project != "" {
		return project
	}
	return fallback
}

// fieldValues reads the ADO reference-name fields out of item that the
// undo Applier needs to compare against a recorded entry. Only the six
// fields below are mapped; any other name (such as an update-fields target
// or System.Reason) is skipped, so it is never checked for divergence.
func fieldValues(item workitem.Item, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "System.State":
			out[f] = item.State
		case "System.Title":
			out[f] = item.Title
		case "System.AssignedTo":
			out[f] = item.AssignedTo
		case "System.Tags":
			out[f] = strings.Join(item.Tags, "; ")
		case "System.IterationPath":
			out[f] = item.IterationPath
		case "System.Description":
			out[f] = item.Description
		}
	}
	return out
}
