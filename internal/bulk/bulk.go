// Package bulk implements the Bulk Operation Engine (spec §4.4): applying a
// sequence of actions to every item resolved by a (handle, selector) pair,
// with a mandatory dry-run planning path, batched pre-image capture for the
// Undo Journal, bounded-concurrency execution, and partial-success
// semantics.
package bulk

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoclient"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/workitem"
)

// DefaultConcurrency bounds how many items a single bulk call mutates in
// parallel (spec §5: "typically 5-10").
const DefaultConcurrency = 8

// ActionKind enumerates the mutation kinds the engine can apply; all may be
// combined in a single call (spec §4.4).
type ActionKind string

const (
	ActionUpdateFields      ActionKind = "update-fields"
	ActionAddTag            ActionKind = "add-tag"
	ActionRemoveTag         ActionKind = "remove-tag"
	ActionComment           ActionKind = "comment"
	ActionAssign            ActionKind = "assign"
	ActionTransitionState   ActionKind = "transition-state"
	ActionLink              ActionKind = "link"
	ActionRemove            ActionKind = "remove"
	ActionMoveToIteration   ActionKind = "move-to-iteration"
	ActionEnhanceDescription ActionKind = "enhance-description"
)

// Action is one requested mutation, carrying only the fields its Kind uses.
type Action struct {
	Kind ActionKind

	Fields map[string]any // update-fields
	Tags   []string        // add-tag / remove-tag

	CommentTemplate string // comment: Go text/template against the item's context

	AssignedTo string // assign

	State  string // transition-state
	Reason string

	LinkRel     string // link
	LinkURL     string
	LinkComment string

	IterationPath string // move-to-iteration

	Confirmed bool // remove: must be true when DryRun is false; a dry run plans a remove without it
}

// DescriptionEnhancer is the narrow collaborator enhance-description calls
// into (an MCP sampling round trip); defined here rather than imported from
// internal/aiquery to avoid a dependency from bulk on the AI query stack for
// actions that never use it.
type DescriptionEnhancer interface {
	Enhance(ctx context.Context, item workitem.Item) (string, error)
}

// Client is the narrow ADO collaborator the engine needs; *adoclient.Client
// satisfies it structurally.
type Client interface {
	GetWorkItemsBatch(ctx context.Context, project string, ids []int, extraFields []string) ([]workitem.Item, error)
	UpdateWorkItem(ctx context.Context, project string, id int, ops []adoclient.JSONPatchOp) (workitem.Item, error)
	DeleteWorkItem(ctx context.Context, project string, id int) error
	AddComment(ctx context.Context, project string, id int, text string) error
	GetRelationsBatch(ctx context.Context, project string, ids []int) (map[int][]string, error)
}

// Request describes one bulk-operation tool call.
type Request struct {
	Project     string
	HandleID    string
	TargetIDs   []int // ids already resolved by the Item Selector
	Actions     []Action
	DryRun      bool
	Actor       string
	Concurrency int
}

// PlannedAction is one (item, action) pair with its resolved values, as
// returned in dry-run mode. Live runs report ItemOutcome values instead.
type PlannedAction struct {
	ItemID    int
	Kind      ActionKind
	Resolved  map[string]any
}

// ItemOutcome is one item's result of a non-dry-run execution.
type ItemOutcome struct {
	ID             int
	Success        bool
	Error          string
	PreviousValues map[string]any
	NewValues      map[string]any
}

// Result is what Execute returns; Plan is populated only for dry runs,
// Outcomes only for real ones.
type Result struct {
	OperationID string
	DryRun      bool
	Plan        []PlannedAction
	Outcomes    []ItemOutcome
	Succeeded   int
	Failed      int
}

// Engine abstracts bulk execution so a large job can be handed to a durable
// backend (see bulk/temporalengine) without changing the Tool Dispatcher.
type Engine interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// InProcessEngine is the default Engine: bounded-concurrency goroutines
// within the server process.
type InProcessEngine struct {
	ADO     Client
	Store   *handlestore.Store
	Journal undo.Journal
	Enhancer DescriptionEnhancer
	Now     func() time.Time
}

// New constructs an InProcessEngine.
func New(ado Client, store *handlestore.Store, journal undo.Journal, enhancer DescriptionEnhancer) *InProcessEngine {
	return &InProcessEngine{ADO: ado, Store: store, Journal: journal, Enhancer: enhancer, Now: time.Now}
}

func (e *InProcessEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute runs req per spec §4.4's contract.
func (e *InProcessEngine) Execute(ctx context.Context, req Request) (Result, error) {
	if len(req.Actions) == 0 {
		return Result{}, adoerrors.New(adoerrors.KindValidation, "bulk operation requires at least one action")
	}
	for _, a := range req.Actions {
		if a.Kind == ActionRemove && !a.Confirmed && !req.DryRun {
			return Result{}, adoerrors.New(adoerrors.KindValidation, "remove requires explicit confirmation when dryRun is false")
		}
	}

	rec, err := e.Store.GetData(ctx, req.HandleID)
	if err != nil {
		return Result{}, err
	}

	if req.DryRun {
		return e.plan(req, rec), nil
	}
	return e.executeLive(ctx, req, rec)
}

// plan resolves every (item, action) pair against the handle's snapshotted
// context, making no ADO calls. This is the default-safe path (spec §4.4).
func (e *InProcessEngine) plan(req Request, rec handlestore.Record) Result {
	var planned []PlannedAction
	for _, id := range req.TargetIDs {
		snap := rec.ItemContext[id]
		for _, a := range req.Actions {
			planned = append(planned, PlannedAction{ItemID: id, Kind: a.Kind, Resolved: resolveAction(a, snap)})
		}
	}
	return Result{DryRun: true, Plan: planned}
}

func resolveAction(a Action, snap handlestore.ItemContext) map[string]any {
	switch a.Kind {
	case ActionUpdateFields:
		return a.Fields
	case ActionAddTag, ActionRemoveTag:
		return map[string]any{"tags": a.Tags, "currentTags": snap.Tags}
	case ActionComment:
		text, _ := renderTemplate(a.CommentTemplate, snap)
		return map[string]any{"text": text}
	case ActionAssign:
		return map[string]any{"assignedTo": a.AssignedTo}
	case ActionTransitionState:
		return map[string]any{"state": a.State, "reason": a.Reason}
	case ActionLink:
		return map[string]any{"rel": a.LinkRel, "url": a.LinkURL}
	case ActionRemove:
		return map[string]any{}
	case ActionMoveToIteration:
		return map[string]any{"iterationPath": a.IterationPath}
	case ActionEnhanceDescription:
		return map[string]any{"title": snap.Title}
	default:
		return nil
	}
}

func renderTemplate(tmpl string, snap handlestore.ItemContext) (string, error) {
	t, err := template.New("comment").Parse(tmpl)
	if err != nil {
		return tmpl, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, snap); err != nil {
		return tmpl, err
	}
	return buf.String(), nil
}

// executeLive performs the pre-image read, mutation, and undo-entry write
// described in spec §4.4.
func (e *InProcessEngine) executeLive(ctx context.Context, req Request, rec handlestore.Record) (Result, error) {
	preImages, err := e.ADO.GetWorkItemsBatch(ctx, req.Project, req.TargetIDs, nil)
	if err != nil {
		return Result{}, err
	}
	byID := make(map[int]workitem.Item, len(preImages))
	for _, it := range preImages {
		byID[it.ID] = it
	}

	var relations map[int][]string
	if hasLinkAction(req.Actions) {
		relations, err = e.ADO.GetRelationsBatch(ctx, req.Project, req.TargetIDs)
		if err != nil {
			return Result{}, err
		}
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sem := make(chan struct{}, concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	outcomes := make([]ItemOutcome, 0, len(req.TargetIDs))

	for _, id := range req.TargetIDs {
		id := id
		pre, ok := byID[id]
		if !ok {
			mu.Lock()
			outcomes = append(outcomes, ItemOutcome{ID: id, Success: false, Error: "item not found in pre-image batch"})
			mu.Unlock()
			continue
		}
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			prevVals, newVals, actionErr := e.applyActions(gctx, req.Project, pre, relations[id], req.Actions, rec.ItemContext[id])
			mu.Lock()
			if actionErr != nil {
				outcomes = append(outcomes, ItemOutcome{ID: id, Success: false, Error: actionErr.Error(), PreviousValues: prevVals, NewValues: newVals})
			} else {
				outcomes = append(outcomes, ItemOutcome{ID: id, Success: true, PreviousValues: prevVals, NewValues: newVals})
			}
			mu.Unlock()
			return nil // per-item errors never abort the group; partial success is normal
		})
	}
	_ = g.Wait()

	result := Result{OperationID: undo.NewOperationID(), DryRun: false, Outcomes: outcomes}
	var affected []undo.AffectedItem
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
			affected = append(affected, undo.AffectedItem{ID: o.ID, PreviousValues: o.PreviousValues, NewValues: o.NewValues})
		} else {
			result.Failed++
		}
	}

	if len(affected) > 0 {
		entry := undo.Entry{
			OperationID: result.OperationID,
			Timestamp:   e.now(),
			Actor:       req.Actor,
			Kind:        joinKinds(req.Actions),
			HandleID:    req.HandleID,
			Affected:    affected,
			Restorable:  !hasUnrestorableRemove(req.Actions),
		}
		if err := e.Journal.Append(ctx, entry); err != nil {
			return result, err
		}
	}
	return result, nil
}

func hasLinkAction(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == ActionLink {
			return true
		}
	}
	return false
}

func hasUnrestorableRemove(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == ActionRemove {
			return true
		}
	}
	return false
}

func joinKinds(actions []Action) string {
	kinds := make([]string, len(actions))
	for i, a := range actions {
		kinds[i] = string(a.Kind)
	}
	return strings.Join(kinds, "+")
}

// applyActions executes every action against a single item in order,
// returning the pre-image and post-image of every field touched. It stops
// at the first failing action for this item (subsequent actions on the same
// item are skipped), but never aborts sibling items.
func (e *InProcessEngine) applyActions(ctx context.Context, project string, pre workitem.Item, existingRelations []string, actions []Action, snap handlestore.ItemContext) (map[string]any, map[string]any, error) {
	prevVals := map[string]any{}
	newVals := map[string]any{}

	// setPrev records the value a field held before this call touched it the
	// first time; a second action in the same call touching the same field
	// must not overwrite that original pre-image with an intermediate state.
	setPrev := func(field string, val any) {
		if _, ok := prevVals[field]; !ok {
			prevVals[field] = val
		}
	}

	for _, a := range actions {
		switch a.Kind {
		case ActionUpdateFields:
			var ops []adoclient.JSONPatchOp
			for field, val := range a.Fields {
				setPrev(field, pre.Extra[field])
				newVals[field] = val
				ops = append(ops, adoclient.ReplaceField(field, val))
			}
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, ops); err != nil {
				return prevVals, newVals, err
			}

		case ActionAddTag, ActionRemoveTag:
			setPrev("System.Tags", strings.Join(pre.Tags, "; "))
			merged := mergeTags(pre.Tags, a.Tags, a.Kind == ActionAddTag)
			newVals["System.Tags"] = strings.Join(merged, "; ")
			op := adoclient.ReplaceField("System.Tags", strings.Join(merged, "; "))
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, []adoclient.JSONPatchOp{op}); err != nil {
				return prevVals, newVals, err
			}
			pre.Tags = merged

		case ActionComment:
			text, err := renderTemplate(a.CommentTemplate, snap)
			if err != nil {
				return prevVals, newVals, err
			}
			if err := e.ADO.AddComment(ctx, project, pre.ID, text); err != nil {
				return prevVals, newVals, err
			}
			newVals["comment"] = text

		case ActionAssign:
			setPrev("System.AssignedTo", pre.AssignedTo)
			newVals["System.AssignedTo"] = a.AssignedTo
			op := adoclient.ReplaceField("System.AssignedTo", a.AssignedTo)
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, []adoclient.JSONPatchOp{op}); err != nil {
				return prevVals, newVals, err
			}

		case ActionTransitionState:
			setPrev("System.State", pre.State)
			newVals["System.State"] = a.State
			ops := []adoclient.JSONPatchOp{adoclient.ReplaceField("System.State", a.State)}
			if a.Reason != "" {
				ops = append(ops, adoclient.ReplaceField("System.Reason", a.Reason))
			}
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, ops); err != nil {
				return prevVals, newVals, err
			}

		case ActionLink:
			if linkExists(existingRelations, a.LinkURL) {
				continue
			}
			op := adoclient.AddRelationOp(a.LinkRel, a.LinkURL, a.LinkComment)
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, []adoclient.JSONPatchOp{op}); err != nil {
				return prevVals, newVals, err
			}
			newVals["relation"] = a.LinkURL

		case ActionRemove:
			setPrev("System.State", pre.State)
			if err := e.ADO.DeleteWorkItem(ctx, project, pre.ID); err != nil {
				return prevVals, newVals, err
			}
			newVals["deleted"] = true

		case ActionMoveToIteration:
			setPrev("System.IterationPath", pre.IterationPath)
			newVals["System.IterationPath"] = a.IterationPath
			op := adoclient.ReplaceField("System.IterationPath", a.IterationPath)
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, []adoclient.JSONPatchOp{op}); err != nil {
				return prevVals, newVals, err
			}

		case ActionEnhanceDescription:
			if e.Enhancer == nil {
				return prevVals, newVals, adoerrors.New(adoerrors.KindSamplingUnavailable, "description enhancement requires MCP sampling")
			}
			setPrev("System.Description", pre.Description)
			text, err := e.Enhancer.Enhance(ctx, pre)
			if err != nil {
				return prevVals, newVals, err
			}
			newVals["System.Description"] = text
			op := adoclient.ReplaceField("System.Description", text)
			if _, err := e.ADO.UpdateWorkItem(ctx, project, pre.ID, []adoclient.JSONPatchOp{op}); err != nil {
				return prevVals, newVals, err
			}

		default:
			return prevVals, newVals, adoerrors.Newf(adoerrors.KindValidation, "unknown action kind %q", a.Kind)
		}
	}
	return prevVals, newVals, nil
}

func mergeTags(current, delta []string, add bool) []string {
	set := make(map[string]bool, len(current))
	for _, t := range current {
		set[t] = true
	}
	if add {
		for _, t := range delta {
			set[t] = true
		}
	} else {
		for _, t := range delta {
			delete(set, t)
		}
	}
	out := make([]string, 0, len(set))
	for _, t := range current {
		if set[t] {
			out = append(out, t)
			delete(set, t)
		}
	}
	if add {
		for _, t := range delta {
			if _, ok := set[t]; ok {
				out = append(out, t)
				delete(set, t)
			}
		}
	}
	return out
}

func linkExists(existing []string, url string) bool {
	for _, u := range existing {
		if u == url {
			return true
		}
	}
	return false
}
