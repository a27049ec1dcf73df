package main

import (
	"context"
	"fmt"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/bulk"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/config"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/envelope"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/mcpserver"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/queryexec"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/selector"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo"
)

// registerTools wires every core-subsystem tool into the dispatcher. Each
// handler's job is narrow: decode the already-validated, default-merged
// argument map into a typed request, invoke the core package, and fold the
// result into an envelope.Envelope.
func registerTools(
	d *dispatcher.Dispatcher,
	executor *queryexec.Executor,
	bulkEngine bulk.Engine,
	undoApplier undo.Applier,
	generator *aiquery.Generator,
	store *handlestore.Store,
	cfg config.Config,
) error {
	tools := []*dispatcher.Tool{
		{
			Name:        "query-wiql",
			LegacyNames: []string{"wit-get-work-items-by-query-wiql"},
			Schema:      wiqlSchema,
			Handler:     queryWIQLHandler(executor),
		},
		{
			Name:    "generate-query",
			Schema:  generateQuerySchema,
			Handler: generateQueryHandler(generator),
		},
		{
			Name:    "bulk-operation",
			Schema:  bulkOperationSchema,
			Handler: bulkOperationHandler(bulkEngine, store),
		},
		{
			Name:    "undo-operation",
			Schema:  undoOperationSchema,
			Handler: undoOperationHandler(&undoApplier),
		},
	}
	for _, t := range tools {
		if err := d.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// toolDefs mirrors registerTools' tool set for MCP tools/list/tools/call
// exposure (mcpserver.Server needs the schema and description independent
// of the dispatcher's internal registry).
func toolDefs() []mcpserver.ToolDef {
	return []mcpserver.ToolDef{
		{Name: "query-wiql", Description: "Run a WIQL query against Azure DevOps work items, returning a query handle and preview.", Schema: wiqlSchema},
		{Name: "generate-query", Description: "Translate a natural-language request into a validated WIQL or OData query.", Schema: generateQuerySchema},
		{Name: "bulk-operation", Description: "Apply one or more mutations to every item resolved by a query handle and selector.", Schema: bulkOperationSchema},
		{Name: "undo-operation", Description: "Revert a prior bulk operation by id, by handle, or forensically by actor and time window.", Schema: undoOperationSchema},
	}
}

var wiqlSchema = map[string]any{
	"type":     "object",
	"required": []string{"project", "query"},
	"properties": map[string]any{
		"project":                  map[string]any{"type": "string"},
		"query":                    map[string]any{"type": "string"},
		"top":                      map[string]any{"type": "integer"},
		"skip":                     map[string]any{"type": "integer"},
		"returnQueryHandle":        map[string]any{"type": "boolean", "default": true},
		"handleOnly":               map[string]any{"type": "boolean", "default": false},
		"includeContext":           map[string]any{"type": "boolean", "default": true},
		"includeSubstantiveChange": map[string]any{"type": "boolean", "default": false},
	},
}

func queryWIQLHandler(executor *queryexec.Executor) dispatcher.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (envelope.Envelope, error) {
		req := queryexec.WIQLRequest{
			Project:                  str(args, "project"),
			Query:                    str(args, "query"),
			Top:                      intOr(args, "top", 0),
			Skip:                     intOr(args, "skip", 0),
			ReturnQueryHandle:        boolOr(args, "returnQueryHandle", true),
			HandleOnly:               boolOr(args, "handleOnly", false),
			IncludeContext:           boolOr(args, "includeContext", true),
			IncludeSubstantiveChange: boolOr(args, "includeSubstantiveChange", false),
		}
		res, err := executor.RunWIQL(ctx, req)
		if err != nil {
			return envelope.Fail("query-wiql", err), nil
		}
		return envelope.Ok("query-wiql", res), nil
	}
}

var generateQuerySchema = map[string]any{
	"type":     "object",
	"required": []string{"description"},
	"properties": map[string]any{
		"description":   map[string]any{"type": "string"},
		"project":       map[string]any{"type": "string"},
		"grammar":       map[string]any{"type": "string", "enum": []string{"wiql", "odata"}, "default": "wiql"},
		"testQuery":     map[string]any{"type": "boolean", "default": true},
		"maxIterations": map[string]any{"type": "integer"},
	},
}

func generateQueryHandler(generator *aiquery.Generator) dispatcher.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (envelope.Envelope, error) {
		grammar := aiquery.GrammarWIQL
		if str(args, "grammar") == "odata" {
			grammar = aiquery.GrammarOData
		}
		res, err := generator.Generate(ctx, aiquery.Request{
			Description:   str(args, "description"),
			Grammar:       grammar,
			Project:       str(args, "project"),
			TestQuery:     boolOr(args, "testQuery", true),
			MaxIterations: intOr(args, "maxIterations", 0),
		})
		if err != nil {
			return envelope.Fail("generate-query", err), nil
		}
		warnings := []string{}
		if !res.IsValidated {
			warnings = append(warnings, "query was not validated against live data")
		}
		return envelope.OkWithWarnings("generate-query", res, warnings...), nil
	}
}

var bulkOperationSchema = map[string]any{
	"type":     "object",
	"required": []string{"project", "queryHandle", "selector", "actions"},
	"properties": map[string]any{
		"project":     map[string]any{"type": "string"},
		"queryHandle": map[string]any{"type": "string"},
		"selector":    map[string]any{},
		"actions":     map[string]any{"type": "array"},
		"dryRun":      map[string]any{"type": "boolean", "default": true},
		"actor":       map[string]any{"type": "string"},
	},
}

func bulkOperationHandler(engine bulk.Engine, store *handlestore.Store) dispatcher.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (envelope.Envelope, error) {
		handleID := str(args, "queryHandle")
		sel, err := selector.ParseRaw(args["selector"])
		if err != nil {
			return envelope.Fail("bulk-operation", err), nil
		}
		ids, err := selector.ResolveHandle(ctx, store, handleID, sel)
		if err != nil {
			return envelope.Fail("bulk-operation", err), nil
		}
		actions, err := decodeActions(args["actions"])
		if err != nil {
			return envelope.Fail("bulk-operation", err), nil
		}
		res, err := engine.Execute(ctx, bulk.Request{
			Project:   str(args, "project"),
			HandleID:  handleID,
			TargetIDs: ids,
			Actions:   actions,
			DryRun:    boolOr(args, "dryRun", true),
			Actor:     str(args, "actor"),
		})
		if err != nil {
			return envelope.Fail("bulk-operation", err), nil
		}
		return envelope.Ok("bulk-operation", res), nil
	}
}

func decodeActions(raw any) ([]bulk.Action, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("actions must be an array")
	}
	out := make([]bulk.Action, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("each action must be an object")
		}
		a := bulk.Action{
			Kind:            bulk.ActionKind(str(m, "kind")),
			AssignedTo:      str(m, "assignedTo"),
			State:           str(m, "state"),
			Reason:          str(m, "reason"),
			LinkRel:         str(m, "linkRel"),
			LinkURL:         str(m, "linkUrl"),
			LinkComment:     str(m, "linkComment"),
			IterationPath:   str(m, "iterationPath"),
			Confirmed:       boolOr(m, "confirmed", false),
			CommentTemplate: str(m, "commentTemplate"),
		}
		if tags, ok := m["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					a.Tags = append(a.Tags, s)
				}
			}
		}
		if fields, ok := m["fields"].(map[string]any); ok {
			a.Fields = fields
		}
		out = append(out, a)
	}
	return out, nil
}

var undoOperationSchema = map[string]any{
	"type":     "object",
	"properties": map[string]any{
		"operationId": map[string]any{"type": "string"},
		"queryHandle": map[string]any{"type": "string"},
		"actor":       map[string]any{"type": "string"},
		"from":        map[string]any{"type": "string"},
		"to":          map[string]any{"type": "string"},
	},
}

func undoOperationHandler(applier *undo.Applier) dispatcher.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (envelope.Envelope, error) {
		switch {
		case str(args, "operationId") != "":
			res, err := applier.UndoOperation(ctx, str(args, "operationId"))
			if err != nil {
				return envelope.Fail("undo-operation", err), nil
			}
			return envelope.Ok("undo-operation", res), nil
		case str(args, "queryHandle") != "":
			res, err := applier.UndoHandle(ctx, str(args, "queryHandle"), str(args, "operationId"))
			if err != nil {
				return envelope.Fail("undo-operation", err), nil
			}
			return envelope.Ok("undo-operation", res), nil
		case str(args, "actor") != "":
			from, to, err := parseWindow(args)
			if err != nil {
				return envelope.Fail("undo-operation", err), nil
			}
			res, err := applier.ForensicUndo(ctx, str(args, "actor"), from, to)
			if err != nil {
				return envelope.Fail("undo-operation", err), nil
			}
			return envelope.Ok("undo-operation", res), nil
		default:
			return envelope.FailWithErrors("undo-operation", adoerrors.KindValidation, []string{
				"one of operationId, queryHandle, or actor is required",
			}), nil
		}
	}
}
