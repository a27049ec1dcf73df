package adoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/workitem"
)

// wiFields is the canonical set of ADO field reference names the core maps
// onto workitem.Item. Extension fields requested by a caller ride alongside
// in Item.Extra.
var wiFields = []string{
	"System.Id", "System.Title", "System.WorkItemType", "System.State",
	"System.AssignedTo", "System.Tags", "System.AreaPath", "System.IterationPath",
	"System.CreatedDate", "System.ChangedDate",
	"System.Description", "Microsoft.VSTS.Common.AcceptanceCriteria",
}

type wiFieldsPayload struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
}

type wiListResponse struct {
	Count int               `json:"count"`
	Value []wiFieldsPayload `json:"value"`
}

// GetWorkItemsBatch fetches full work items for ids, splitting into requests
// of at most BatchCeiling ids each (spec §4.3). extraFields are appended to
// the canonical field set and surfaced via Item.Extra.
func (c *Client) GetWorkItemsBatch(ctx context.Context, project string, ids []int, extraFields []string) ([]workitem.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	fields := append(append([]string(nil), wiFields...), extraFields...)
	out := make([]workitem.Item, 0, len(ids))
	for start := 0; start < len(ids); start += BatchCeiling {
		end := start + BatchCeiling
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := c.getWorkItemsPage(ctx, project, ids[start:end], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) getWorkItemsPage(ctx context.Context, project string, ids []int, fields []string) ([]workitem.Item, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.Itoa(id)
	}
	query := fmt.Sprintf("ids=%s&fields=%s&api-version=7.1", strings.Join(strIDs, ","), strings.Join(fields, ","))
	body, _, err := c.do(ctx, http.MethodGet, c.url(project, "wit/workitems", query), nil)
	if err != nil {
		return nil, err
	}
	var resp wiListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindUpstream, "decode work items response", err)
	}
	extraSet := map[string]bool{}
	for _, f := range fields {
		switch f {
		case "System.Id", "System.Title", "System.WorkItemType", "System.State",
			"System.AssignedTo", "System.Tags", "System.AreaPath", "System.IterationPath",
			"System.CreatedDate", "System.ChangedDate",
			"System.Description", "Microsoft.VSTS.Common.AcceptanceCriteria":
		default:
			extraSet[f] = true
		}
	}
	items := make([]workitem.Item, 0, len(resp.Value))
	for _, v := range resp.Value {
		items = append(items, decodeItem(v, extraSet))
	}
	return items, nil
}

func decodeItem(v wiFieldsPayload, extraFieldNames map[string]bool) workitem.Item {
	get := func(k string) string {
		if s, ok := v.Fields[k].(string); ok {
			return s
		}
		return ""
	}
	parseTime := func(k string) time.Time {
		if s, ok := v.Fields[k].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	item := workitem.Item{
		ID:                 v.ID,
		Title:              get("System.Title"),
		Type:               get("System.WorkItemType"),
		State:              get("System.State"),
		AssignedTo:         get("System.AssignedTo"),
		Tags:               workitem.ParseTags(get("System.Tags")),
		AreaPath:           get("System.AreaPath"),
		IterationPath:      get("System.IterationPath"),
		CreatedDate:        parseTime("System.CreatedDate"),
		ChangedDate:        parseTime("System.ChangedDate"),
		Description:        get("System.Description"),
		AcceptanceCriteria: get("Microsoft.VSTS.Common.AcceptanceCriteria"),
	}
	if len(extraFieldNames) > 0 {
		item.Extra = map[string]any{}
		for f := range extraFieldNames {
			if val, ok := v.Fields[f]; ok {
				item.Extra[f] = val
			}
		}
	}
	return item
}

// JSONPatchOp is one operation of an ADO JSON-patch request body (the wire
// format for create/update, spec §6.3).
type JSONPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

// ReplaceField builds a JSON-patch "replace" op for a single ADO field.
func ReplaceField(field string, value any) JSONPatchOp {
	return JSONPatchOp{Op: "replace", Path: "/fields/" + field, Value: value}
}

// AddField builds a JSON-patch "add" op for a single ADO field.
func AddField(field string, value any) JSONPatchOp {
	return JSONPatchOp{Op: "add", Path: "/fields/" + field, Value: value}
}

// CreateWorkItem creates a work item of the given type via POST
// wit/workitems/${type} (spec §6.3).
func (c *Client) CreateWorkItem(ctx context.Context, project, workItemType string, ops []JSONPatchOp) (workitem.Item, error) {
	path := fmt.Sprintf("wit/workitems/$%s", workItemType)
	body, _, err := c.do(ctx, http.MethodPost, c.url(project, path, "api-version=7.1"), ops)
	if err != nil {
		return workitem.Item{}, err
	}
	var v wiFieldsPayload
	if err := json.Unmarshal(body, &v); err != nil {
		return workitem.Item{}, adoerrors.Wrap(adoerrors.KindUpstream, "decode create response", err)
	}
	return decodeItem(v, nil), nil
}

// UpdateWorkItem applies a JSON-patch to an existing work item via PATCH
// wit/workitems/${id} (spec §6.3). Returns the item as decoded from the
// PATCH response, i.e. its state after the patch; no pre-image is read here.
func (c *Client) UpdateWorkItem(ctx context.Context, project string, id int, ops []JSONPatchOp) (workitem.Item, error) {
	path := fmt.Sprintf("wit/workitems/%d", id)
	body, _, err := c.do(ctx, http.MethodPatch, c.url(project, path, "api-version=7.1"), ops)
	if err != nil {
		return workitem.Item{}, err
	}
	var v wiFieldsPayload
	if err := json.Unmarshal(body, &v); err != nil {
		return workitem.Item{}, adoerrors.Wrap(adoerrors.KindUpstream, "decode update response", err)
	}
	return decodeItem(v, nil), nil
}

// DeleteWorkItem deletes a work item via DELETE wit/workItems/${id} (spec
// §6.3). Never retried after a 2xx (terminal success); the Bulk Engine
// enforces that at the call site by not looping this call.
func (c *Client) DeleteWorkItem(ctx context.Context, project string, id int) error {
	path := fmt.Sprintf("wit/workItems/%d", id)
	_, _, err := c.do(ctx, http.MethodDelete, c.url(project, path, "api-version=7.1"), nil)
	return err
}

// AddRelationOp builds a JSON-patch "add" op linking a work item to
// another work item (rel e.g. "System.LinkTypes.Related") or an external
// URL (rel "Hyperlink").
func AddRelationOp(rel, url, comment string) JSONPatchOp {
	value := map[string]any{"rel": rel, "url": url}
	if comment != "" {
		value["attributes"] = map[string]any{"comment": comment}
	}
	return JSONPatchOp{Op: "add", Path: "/relations/-", Value: value}
}

// GetRelationsBatch fetches each item's current relation URLs via
// $expand=relations, batched like GetWorkItemsBatch, so the Bulk Engine's
// "skip if exists" link validation can check membership without a per-item
// round trip (spec §4.4 "Link validation (skip if exists) similarly batches
// relation reads").
func (c *Client) GetRelationsBatch(ctx context.Context, project string, ids []int) (map[int][]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make(map[int][]string, len(ids))
	for start := 0; start < len(ids); start += BatchCeiling {
		end := start + BatchCeiling
		if end > len(ids) {
			end = len(ids)
		}
		strIDs := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			strIDs = append(strIDs, strconv.Itoa(id))
		}
		query := fmt.Sprintf("ids=%s&$expand=relations&api-version=7.1", strings.Join(strIDs, ","))
		body, _, err := c.do(ctx, http.MethodGet, c.url(project, "wit/workitems", query), nil)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Value []struct {
				ID        int `json:"id"`
				Relations []struct {
					URL string `json:"url"`
				} `json:"relations"`
			} `json:"value"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, adoerrors.Wrap(adoerrors.KindUpstream, "decode relations response", err)
		}
		for _, v := range resp.Value {
			urls := make([]string, 0, len(v.Relations))
			for _, r := range v.Relations {
				urls = append(urls, r.URL)
			}
			out[v.ID] = urls
		}
	}
	return out, nil
}

// AddComment appends a discussion comment via POST
// wit/workItems/${id}/comments (spec §6.3).
func (c *Client) AddComment(ctx context.Context, project string, id int, text string) error {
	path := fmt.Sprintf("wit/workItems/%d/comments", id)
	body := map[string]string{"text": text}
	_, _, err := c.do(ctx, http.MethodPost, c.url(project, path, "api-version=7.1-preview.3"), body)
	return err
}

type revisionsResponse struct {
	Value []revisionPayload `json:"value"`
}

type revisionPayload struct {
	Rev    int            `json:"rev"`
	Fields map[string]any `json:"fields"`
}

// GetRevisions fetches the full revision history for a work item via GET
// wit/workitems/${id}/revisions (spec §6.3), decoding it into the
// workitem.Revision shape LastSubstantiveChange consumes. Revisions are
// returned by ADO oldest-first already; no re-sort is needed.
func (c *Client) GetRevisions(ctx context.Context, project string, id int) ([]workitem.Revision, error) {
	path := fmt.Sprintf("wit/workitems/%d/revisions", id)
	body, _, err := c.do(ctx, http.MethodGet, c.url(project, path, "api-version=7.1"), nil)
	if err != nil {
		return nil, err
	}
	var resp revisionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindUpstream, "decode revisions response", err)
	}

	out := make([]workitem.Revision, 0, len(resp.Value))
	var prevFields map[string]any
	for _, rp := range resp.Value {
		changedBy := ""
		if by, ok := rp.Fields["System.ChangedBy"].(map[string]any); ok {
			if name, ok := by["displayName"].(string); ok {
				changedBy = name
			}
		} else if s, ok := rp.Fields["System.ChangedBy"].(string); ok {
			changedBy = s
		}
		var changedDate time.Time
		if s, ok := rp.Fields["System.ChangedDate"].(string); ok {
			changedDate, _ = time.Parse(time.RFC3339, s)
		}
		out = append(out, workitem.Revision{
			Rev:           rp.Rev,
			ChangedDate:   changedDate,
			ChangedBy:     changedBy,
			ChangedFields: diffFieldNames(prevFields, rp.Fields),
		})
		prevFields = rp.Fields
	}
	return out, nil
}

func diffFieldNames(prev, cur map[string]any) []string {
	if prev == nil {
		// First revision: everything is "changed" by definition, but it is
		// the creation event, not a subsequent substantive edit; callers
		// scanning for staleness care about revisions after the first, so
		// an empty diff here is treated the same as a heartbeat (no
		// specific fields to evaluate) rather than claiming every field
		// changed.
		return nil
	}
	var changed []string
	for k, v := range cur {
		if pv, ok := prev[k]; !ok || fmt.Sprint(pv) != fmt.Sprint(v) {
			changed = append(changed, k)
		}
	}
	return changed
}
