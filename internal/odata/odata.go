// Package odata builds and executes Azure DevOps Analytics (OData) queries
// (spec §4.3 "OData path", §6.3). Analytics authenticates exclusively via a
// CLI-derived token; OAuth tokens from the primary flow are rejected, so
// this package owns its own adoauth.Cache wired to an adoauth.CLISource
// rather than sharing the REST client's token cache.
package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoauth"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

// QueryType enumerates the typed OData query descriptors the core supports
// (spec §4.3).
type QueryType string

const (
	QueryWorkItemCount   QueryType = "workItemCount"
	QueryGroupByState    QueryType = "groupByState"
	QueryGroupByType     QueryType = "groupByType"
	QueryGroupByAssignee QueryType = "groupByAssignee"
	QueryVelocityMetrics QueryType = "velocityMetrics"
	QueryCycleTimeMetrics QueryType = "cycleTimeMetrics"
	QueryCustom          QueryType = "customQuery"
)

// Descriptor is the typed query the caller builds. CustomSelect is applied
// only when Type is QueryCustom; CustomFilter is ANDed into $filter for
// every query type.
type Descriptor struct {
	Type          QueryType
	Project       string
	DateField     string    // field Since applies to; defaults to "CreatedDate"
	Since         time.Time // inclusive lower bound, ISO 8601 with Z
	CustomFilter  string
	CustomSelect  string
	Top           int
}

// Client executes OData requests against the Analytics endpoint.
type Client struct {
	Organization string
	HTTP         *http.Client
	Tokens       *adoauth.Cache
	BaseURL      string // defaults to analytics.dev.azure.com
}

// New constructs a Client. tokens must be backed by a CLI-derived source;
// the caller is responsible for wiring adoauth.CLISource (never the REST
// OAuth flow) per spec §6.3.
func New(org string, tokens *adoauth.Cache) *Client {
	return &Client{
		Organization: org,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		Tokens:       tokens,
		BaseURL:      "https://analytics.dev.azure.com",
	}
}

// BuildURL renders d into a full Analytics WorkItems OData URL.
func (c *Client) BuildURL(d Descriptor) (string, error) {
	if d.Project == "" {
		return "", adoerrors.New(adoerrors.KindValidation, "odata query requires a project")
	}
	base := fmt.Sprintf("%s/%s/%s/_odata/v3.0-preview/WorkItems", c.BaseURL, c.Organization, d.Project)

	q := url.Values{}
	switch d.Type {
	case QueryWorkItemCount:
		q.Set("$apply", "aggregate($count as Count)")
	case QueryGroupByState:
		q.Set("$apply", "groupby((State),aggregate($count as Count))")
	case QueryGroupByType:
		q.Set("$apply", "groupby((WorkItemType),aggregate($count as Count))")
	case QueryGroupByAssignee:
		q.Set("$apply", "groupby((AssignedTo/UserName),aggregate($count as Count))")
	case QueryVelocityMetrics:
		q.Set("$apply", "groupby((Iteration/IterationPath),aggregate(StoryPoints with sum as TotalPoints))")
	case QueryCycleTimeMetrics:
		q.Set("$apply", "groupby((WorkItemType),aggregate(CompletedDate sub CreatedDate with average as AvgCycleTime))")
	case QueryCustom:
		if d.CustomSelect != "" {
			q.Set("$select", d.CustomSelect)
		}
	default:
		return "", adoerrors.Newf(adoerrors.KindValidation, "unknown odata query type %q", d.Type)
	}

	filter := buildFilter(d)
	if filter != "" {
		q.Set("$filter", filter)
	}
	if d.Top > 0 {
		q.Set("$top", fmt.Sprintf("%d", d.Top))
	}
	return base + "?" + q.Encode(), nil
}

func buildFilter(d Descriptor) string {
	var parts []string
	if !d.Since.IsZero() {
		field := d.DateField
		if field == "" {
			field = "CreatedDate"
		}
		parts = append(parts, fmt.Sprintf("%s ge %s", field, d.Since.UTC().Format("2006-01-02T15:04:05Z")))
	}
	if d.CustomFilter != "" {
		parts = append(parts, d.CustomFilter)
	}
	return strings.Join(parts, " and ")
}

// Result is a decoded Analytics response: the raw rows (each a map of
// column name to value) and, when present, the WorkItemId column extracted
// for handle creation (spec §4.3 "workItemIds is the list of returned
// WorkItemId values").
type Result struct {
	Rows        []map[string]any
	WorkItemIDs []int
}

// Execute runs d against the Analytics endpoint using a CLI-derived token.
func (c *Client) Execute(ctx context.Context, d Descriptor) (Result, error) {
	u, err := c.BuildURL(d)
	if err != nil {
		return Result{}, err
	}
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return Result{}, adoerrors.Wrap(adoerrors.KindAuthenticationMiss, "acquire analytics token (az login required)", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, adoerrors.Wrap(adoerrors.KindUpstream, "analytics request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return Result{}, adoerrors.Newf(adoerrors.KindRateLimited, "analytics rate limited: %s", string(body))
		}
		return Result{}, adoerrors.Newf(adoerrors.KindUpstream, "analytics returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, adoerrors.Wrap(adoerrors.KindUpstream, "decode analytics response", err)
	}

	var ids []int
	for _, row := range decoded.Value {
		if v, ok := row["WorkItemId"]; ok {
			if f, ok := v.(float64); ok {
				ids = append(ids, int(f))
			}
		}
	}
	return Result{Rows: decoded.Value, WorkItemIDs: ids}, nil
}
