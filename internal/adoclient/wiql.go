package adoclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

type wiqlRequest struct {
	Query string `json:"query"`
}

type wiqlWorkItemRef struct {
	ID int `json:"id"`
}

type wiqlResponse struct {
	WorkItems []wiqlWorkItemRef `json:"workItems"`
}

// WIQLResult is the id list a WIQL query produced, annotated with paging
// metadata (spec §4.3: "Supports pagination via skip/top parameters;
// reports totalCount, hasNextPage, nextSkip").
type WIQLResult struct {
	IDs         []int
	TotalCount  int
	HasNextPage bool
	NextSkip    int
}

// RunWIQL executes query verbatim against wit/wiql (spec §6.3), applying
// skip/top client-side pagination over the full id list WIQL returns (ADO's
// WIQL endpoint itself is not paginated server-side; it returns the whole
// matching id list in one call, capped at 20000 by the service).
func (c *Client) RunWIQL(ctx context.Context, project, query string, skip, top int) (WIQLResult, error) {
	body, _, err := c.do(ctx, http.MethodPost, c.url(project, "wit/wiql", "api-version=7.1"), wiqlRequest{Query: query})
	if err != nil {
		return WIQLResult{}, err
	}
	var resp wiqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return WIQLResult{}, adoerrors.Wrap(adoerrors.KindUpstream, "decode wiql response", err)
	}

	all := make([]int, len(resp.WorkItems))
	for i, wi := range resp.WorkItems {
		all[i] = wi.ID
	}

	total := len(all)
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	end := total
	if top > 0 && skip+top < total {
		end = skip + top
	}
	page := all[skip:end]

	return WIQLResult{
		IDs:         page,
		TotalCount:  total,
		HasNextPage: end < total,
		NextSkip:    end,
	}, nil
}
