// Package selector implements the Item Selector Resolver (spec §3.3, §4.2):
// resolving a handle's "all" / index-list / criteria selector against its
// stored item context into a concrete, ordered id subset.
package selector

import (
	"context"
	"strings"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
)

// All is the literal selector value selecting every id in a handle.
const All = "all"

// Criteria is the AND-across-keys, any-of-within-tags criteria object
// (spec §3.3, and the §9 clarification pinning "any-of" within tags).
type Criteria struct {
	States          []string `json:"states,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Types           []string `json:"types,omitempty"`
	TitleContains   string   `json:"titleContains,omitempty"`
	DaysInactiveMin *int     `json:"daysInactiveMin,omitempty"`
	DaysInactiveMax *int     `json:"daysInactiveMax,omitempty"`
}

// knownCriteriaKeys lists every field Criteria recognizes. Used to reject
// unknown keys when a selector arrives as a raw map (the wire/JSON shape
// from an MCP tool call) rather than as a typed Criteria value.
var knownCriteriaKeys = map[string]bool{
	"states": true, "tags": true, "types": true,
	"titleContains": true, "daysInactiveMin": true, "daysInactiveMax": true,
}

// Selector is the resolved argument shape: exactly one of all, indices, or
// crit is populated, enforced by the constructors below.
type Selector struct {
	all      bool
	indices  []int
	crit     *Criteria
	rawExtra []string // unknown keys observed when parsed from a raw map
}

// NewAll returns the "all" selector.
func NewAll() Selector { return Selector{all: true} }

// NewIndices returns an index-list selector. A nil idx is treated as an
// empty list, which resolves to no ids.
func NewIndices(idx []int) Selector {
	if idx == nil {
		idx = []int{}
	}
	return Selector{indices: idx}
}

// NewCriteria returns a criteria-object selector.
func NewCriteria(c Criteria) Selector { return Selector{crit: &c} }

// ParseRaw builds a Selector from an untyped MCP argument value: the string
// "all", a JSON array of numbers, or a JSON object. Unknown object keys are
// retained on the selector so Resolve can report them as an InvalidSelection
// rather than silently ignoring them (spec §3.3).
func ParseRaw(v any) (Selector, error) {
	switch val := v.(type) {
	case string:
		if val == All {
			return NewAll(), nil
		}
		return Selector{}, adoerrors.Newf(adoerrors.KindInvalidSelection, "unsupported string selector %q", val)
	case []any:
		idx := make([]int, 0, len(val))
		for _, e := range val {
			n, ok := e.(float64)
			if !ok {
				return Selector{}, adoerrors.New(adoerrors.KindInvalidSelection, "index list must contain only numbers")
			}
			idx = append(idx, int(n))
		}
		return NewIndices(idx), nil
	case map[string]any:
		var extra []string
		for k := range val {
			if !knownCriteriaKeys[k] {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			return Selector{rawExtra: extra}, nil
		}
		c := Criteria{}
		if states, ok := val["states"].([]any); ok {
			c.States = toStrings(states)
		}
		if tags, ok := val["tags"].([]any); ok {
			c.Tags = toStrings(tags)
		}
		if types, ok := val["types"].([]any); ok {
			c.Types = toStrings(types)
		}
		if tc, ok := val["titleContains"].(string); ok {
			c.TitleContains = tc
		}
		if min, ok := val["daysInactiveMin"].(float64); ok {
			m := int(min)
			c.DaysInactiveMin = &m
		}
		if max, ok := val["daysInactiveMax"].(float64); ok {
			m := int(max)
			c.DaysInactiveMax = &m
		}
		return NewCriteria(c), nil
	default:
		return Selector{}, adoerrors.New(adoerrors.KindInvalidSelection, "selector must be \"all\", an index array, or a criteria object")
	}
}

func toStrings(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Resolve resolves sel against rec's ordered WorkItemIDs and ItemContext.
func Resolve(_ context.Context, rec handlestore.Record, sel Selector) ([]int, error) {
	if len(sel.rawExtra) > 0 {
		return nil, adoerrors.Newf(adoerrors.KindInvalidSelection, "unknown criteria keys: %s", strings.Join(sel.rawExtra, ", ")).
			WithDetails(map[string]any{"unknownKeys": sel.rawExtra})
	}

	switch {
	case sel.all:
		return append([]int(nil), rec.WorkItemIDs...), nil
	case sel.indices != nil:
		return resolveIndices(rec.WorkItemIDs, sel.indices)
	case sel.crit != nil:
		return resolveCriteria(rec, *sel.crit)
	default:
		return nil, adoerrors.New(adoerrors.KindInvalidSelection, "empty selector")
	}
}

func resolveIndices(ids []int, indices []int) ([]int, error) {
	seen := make(map[int]struct{}, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(ids) {
			return nil, adoerrors.Newf(adoerrors.KindInvalidSelection, "index %d out of range (handle has %d items)", i, len(ids)).
				WithDetails(map[string]any{"offendingIndex": i})
		}
		id := ids[i]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func resolveCriteria(rec handlestore.Record, c Criteria) ([]int, error) {
	requiresContext := c.States != nil || c.Tags != nil || c.Types != nil ||
		c.TitleContains != "" || c.DaysInactiveMin != nil || c.DaysInactiveMax != nil

	anyContext := len(rec.ItemContext) > 0
	if requiresContext && !anyContext {
		return nil, adoerrors.New(adoerrors.KindContextUnavailable,
			"handle has no item context snapshot; re-query with context fields enabled")
	}

	var missingDaysInactiveOnAll = true

	out := make([]int, 0, len(rec.WorkItemIDs))
	for _, id := range rec.WorkItemIDs {
		ctx, ok := rec.ItemContext[id]
		if !ok {
			continue // missing context => ineligible, not an error, per §4.2
		}
		if (c.DaysInactiveMin != nil || c.DaysInactiveMax != nil) && ctx.DaysInactive != nil {
			missingDaysInactiveOnAll = false
		}
		if matches(ctx, c) {
			out = append(out, id)
		}
	}

	if (c.DaysInactiveMin != nil || c.DaysInactiveMax != nil) && missingDaysInactiveOnAll && len(rec.ItemContext) > 0 {
		return nil, adoerrors.New(adoerrors.KindContextUnavailable,
			"daysInactive was not snapshotted for any item in this handle; re-query with includeSubstantiveChange enabled")
	}

	return out, nil
}

func matches(ctx handlestore.ItemContext, c Criteria) bool {
	// States and Types compare case-insensitively: this is a deliberate
	// loosening, not an oversight. ADO's canonical names ("Active", "Bug")
	// are process-template-defined and some callers pass lowercase values;
	// a selector should match "active" the same as "Active".
	if len(c.States) > 0 && !containsFold(c.States, ctx.State) {
		return false
	}
	if len(c.Types) > 0 && !containsFold(c.Types, ctx.Type) {
		return false
	}
	if len(c.Tags) > 0 && !anyTagMatches(c.Tags, ctx.Tags) {
		return false
	}
	if c.TitleContains != "" && !strings.Contains(strings.ToLower(ctx.Title), strings.ToLower(c.TitleContains)) {
		return false
	}
	if c.DaysInactiveMin != nil {
		if ctx.DaysInactive == nil || *ctx.DaysInactive < *c.DaysInactiveMin {
			return false
		}
	}
	if c.DaysInactiveMax != nil {
		if ctx.DaysInactive == nil || *ctx.DaysInactive > *c.DaysInactiveMax {
			return false
		}
	}
	return true
}

// ResolveHandle is the convenience form of §4.1's resolveSelector(handleId,
// selector): it fetches the handle's record and resolves sel against it in
// one call, returning adoerrors.KindHandleNotFound if the handle is absent
// or expired.
func ResolveHandle(ctx context.Context, store *handlestore.Store, handleID string, sel Selector) ([]int, error) {
	rec, err := store.GetData(ctx, handleID)
	if err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindHandleNotFound, "handle "+handleID, err)
	}
	return Resolve(ctx, rec, sel)
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// anyTagMatches implements the any-of-within-tags semantics pinned by
// spec §9: the item matches if it carries at least one of the requested tags.
func anyTagMatches(want []string, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}
