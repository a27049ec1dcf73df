// Package queryexec implements the Query Executor (spec §4.3): running WIQL
// queries, optionally snapshotting item context, optionally creating a Query
// Handle, and producing the preview the caller sanity checks before issuing
// a bulk operation. It has no OData query path; the Executor's OData client
// is held but not called here.
package queryexec

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoclient"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/odata"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/workitem"
)

// ContextFetchConcurrency is a concurrency figure within spec §5's
// "typically 5-10" range. The fetch paths below do not reference it:
// work-item batches are fetched in sequence, and revision-history fetches
// are bounded by adoclient.RevisionBatchConcurrency.
const ContextFetchConcurrency = 8

// Pattern names recognized by FilterByPatterns (spec §4.3).
const (
	PatternMissingDescription = "missing_description"
	PatternPlaceholderTitles  = "placeholder_titles"
	PatternDuplicates         = "duplicates"
)

// WIQLRequest describes a single query-wiql tool invocation's parameters.
type WIQLRequest struct {
	Project                  string
	Query                    string
	Skip, Top                int
	ReturnQueryHandle        bool
	HandleOnly               bool
	IncludeContext           bool
	IncludeSubstantiveChange bool
	ExtraFields              []string
	FilterByDaysInactiveMin  *int
	FilterByDaysInactiveMax  *int
	FilterByPatterns         []string
	HandleTTL                time.Duration
	Actor                    string
}

// PreviewItem is one row of the ≤10-item sanity-check preview (spec §4.3).
type PreviewItem struct {
	Index        int
	ID           int
	Title        string
	State        string
	Type         string
	DaysInactive *int
	Tags         []string
}

// Result is what query-wiql returns to the Tool Dispatcher.
type Result struct {
	Items       []workitem.Item // nil when both ReturnQueryHandle and HandleOnly are set
	TotalCount  int
	HasNextPage bool
	NextSkip    int
	QueryHandle string
	Preview     []PreviewItem
	PerItemErrors map[int]string // substantive-change fetch errors, non-fatal
}

// Executor runs queries against ADO and, when asked, stores the result as a
// Query Handle.
type Executor struct {
	ADO    *adoclient.Client
	OData  *odata.Client
	Store  *handlestore.Store
	Now    func() time.Time
}

// New constructs an Executor. now defaults to time.Now when nil.
func New(ado *adoclient.Client, od *odata.Client, store *handlestore.Store) *Executor {
	return &Executor{ADO: ado, OData: od, Store: store, Now: time.Now}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RunWIQL executes the WIQL path end to end (spec §4.3).
func (e *Executor) RunWIQL(ctx context.Context, req WIQLRequest) (Result, error) {
	wiql, err := e.ADO.RunWIQL(ctx, req.Project, req.Query, req.Skip, req.Top)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		TotalCount:  wiql.TotalCount,
		HasNextPage: wiql.HasNextPage,
		NextSkip:    wiql.NextSkip,
	}

	needsContext := req.IncludeContext || req.ReturnQueryHandle ||
		req.FilterByDaysInactiveMin != nil || req.FilterByDaysInactiveMax != nil ||
		len(req.FilterByPatterns) > 0

	items := make([]workitem.Item, 0, len(wiql.IDs))
	perItemErrs := map[int]string{}

	if needsContext && len(wiql.IDs) > 0 {
		items, err = e.ADO.GetWorkItemsBatch(ctx, req.Project, wiql.IDs, req.ExtraFields)
		if err != nil {
			return Result{}, err
		}
		if req.IncludeSubstantiveChange {
			e.applySubstantiveChange(ctx, req.Project, items, perItemErrs)
		}
	} else {
		for _, id := range wiql.IDs {
			items = append(items, workitem.Item{ID: id})
		}
	}

	if req.FilterByDaysInactiveMin != nil || req.FilterByDaysInactiveMax != nil {
		items = filterByDaysInactive(items, req.FilterByDaysInactiveMin, req.FilterByDaysInactiveMax)
	}
	if len(req.FilterByPatterns) > 0 {
		items, err = filterByPatterns(items, req.FilterByPatterns)
		if err != nil {
			return Result{}, err
		}
	}

	if req.ReturnQueryHandle {
		ids := make([]int, len(items))
		ctxSnap := make(map[int]handlestore.ItemContext, len(items))
		for i, it := range items {
			ids[i] = it.ID
			ctxSnap[it.ID] = itemToContext(it)
		}
		handleID, err := e.Store.Store(ctx, ids, req.Query, handlestore.Metadata{
			Project:   req.Project,
			QueryType: handlestore.QueryTypeFlat,
			CreatedBy: req.Actor,
		}, req.HandleTTL, ctxSnap)
		if err != nil {
			return Result{}, err
		}
		result.QueryHandle = handleID
		result.Preview = buildPreview(items)
	}

	if req.ReturnQueryHandle && req.HandleOnly {
		result.Items = nil
	} else {
		result.Items = items
	}
	result.PerItemErrors = perItemErrs
	return result, nil
}

func itemToContext(it workitem.Item) handlestore.ItemContext {
	return handlestore.ItemContext{
		Title:                 it.Title,
		State:                 it.State,
		Type:                  it.Type,
		Tags:                  it.Tags,
		AssignedTo:            it.AssignedTo,
		DaysInactive:          it.DaysInactive,
		LastSubstantiveChange: it.LastSubstantiveChange,
		Fields:                it.Extra,
	}
}

func buildPreview(items []workitem.Item) []PreviewItem {
	n := len(items)
	if n > 10 {
		n = 10
	}
	out := make([]PreviewItem, 0, n)
	for i := 0; i < n; i++ {
		it := items[i]
		out = append(out, PreviewItem{
			Index: i, ID: it.ID, Title: it.Title, State: it.State, Type: it.Type,
			DaysInactive: it.DaysInactive, Tags: it.Tags,
		})
	}
	return out
}

// applySubstantiveChange fetches revision history for each item (bounded
// concurrency, §4.3 "batches of ~10 items concurrently") and derives
// LastSubstantiveChange/DaysInactive. Per-item fetch errors are recorded in
// perItemErrs rather than failing the whole query.
func (e *Executor) applySubstantiveChange(ctx context.Context, project string, items []workitem.Item, perItemErrs map[int]string) {
	sem := make(chan struct{}, adoclient.RevisionBatchConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	now := e.now()

	type result struct {
		idx  int
		revs []workitem.Revision
		err  error
	}
	results := make(chan result, len(items))

	for idx, it := range items {
		idx, id := idx, it.ID
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			revs, err := e.ADO.GetRevisions(gctx, project, id)
			results <- result{idx: idx, revs: revs, err: err}
			return nil // per-item errors never abort the group
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			perItemErrs[items[r.idx].ID] = r.err.Error()
			continue
		}
		workitem.ApplyStaleness(&items[r.idx], r.revs, now)
	}
}

func filterByDaysInactive(items []workitem.Item, min, max *int) []workitem.Item {
	out := make([]workitem.Item, 0, len(items))
	for _, it := range items {
		if it.DaysInactive == nil {
			continue
		}
		if min != nil && *it.DaysInactive < *min {
			continue
		}
		if max != nil && *it.DaysInactive > *max {
			continue
		}
		out = append(out, it)
	}
	return out
}

func filterByPatterns(items []workitem.Item, patterns []string) ([]workitem.Item, error) {
	set := map[string]bool{}
	for _, p := range patterns {
		switch p {
		case PatternMissingDescription, PatternPlaceholderTitles, PatternDuplicates:
			set[p] = true
		default:
			return nil, unknownPatternError(p)
		}
	}

	out := items
	if set[PatternMissingDescription] {
		filtered := out[:0:0]
		for _, it := range out {
			if strings.TrimSpace(it.Description) == "" {
				filtered = append(filtered, it)
			}
		}
		out = filtered
	}
	if set[PatternPlaceholderTitles] {
		filtered := out[:0:0]
		for _, it := range out {
			if isPlaceholderTitle(it.Title) {
				filtered = append(filtered, it)
			}
		}
		out = filtered
	}
	if set[PatternDuplicates] {
		out = duplicateTitles(out)
	}
	return out, nil
}

func unknownPatternError(p string) error {
	return adoerrors.Newf(adoerrors.KindValidation, "unknown filter pattern %q", p)
}

var placeholderTitlePatterns = []string{"todo", "tbd", "placeholder", "new item", "untitled", "xxx"}

func isPlaceholderTitle(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	if lower == "" {
		return true
	}
	for _, p := range placeholderTitlePatterns {
		if lower == p || strings.HasPrefix(lower, p+" ") {
			return true
		}
	}
	return false
}

// duplicateTitles returns every item whose normalized title is shared by at
// least one other item in the set, sorted back into original relative order.
func duplicateTitles(items []workitem.Item) []workitem.Item {
	byTitle := map[string][]int{}
	for i, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.Title))
		byTitle[key] = append(byTitle[key], i)
	}
	var keep []int
	for _, idxs := range byTitle {
		if len(idxs) > 1 {
			keep = append(keep, idxs...)
		}
	}
	sort.Ints(keep)
	out := make([]workitem.Item, 0, len(keep))
	for _, i := range keep {
		out = append(out, items[i])
	}
	return out
}
