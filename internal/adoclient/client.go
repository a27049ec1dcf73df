// Package adoclient implements the thin authenticated JSON client over Azure
// DevOps REST (spec §4, §6.3): work item get/create/update/delete,
// comments, revisions, and WIQL, with batching, retry-with-backoff, and a
// shared rate-limit gate.
package adoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoauth"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

// BatchCeiling is the maximum number of work item ids ADO accepts per
// `wit/workitems?ids=` request (spec §4.3: "batches of up to ~200 ids").
const BatchCeiling = 200

// RevisionBatchConcurrency bounds concurrent revision-history fetches
// (spec §4.3: "batches of ~10 items concurrently").
const RevisionBatchConcurrency = 10

// DefaultCallTimeout is the per-HTTP-call timeout (spec §5).
const DefaultCallTimeout = 30 * time.Second

// Client is a thin, authenticated JSON client over one ADO organization.
type Client struct {
	Organization string
	HTTP         *http.Client
	Tokens       *adoauth.Cache
	Limiter      *rate.Limiter
	BaseURL      string // overridable for tests; defaults to dev.azure.com

	MaxRetries int
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.HTTP = hc } }

// WithLimiter overrides the rate-limit gate. Default allows 10 req/s with a
// burst of 20, a conservative value comfortably under ADO's documented
// per-organization ceilings.
func WithLimiter(l *rate.Limiter) Option { return func(c *Client) { c.Limiter = l } }

// WithBaseURL overrides the REST base URL (tests point this at an httptest
// server instead of https://dev.azure.com).
func WithBaseURL(u string) Option { return func(c *Client) { c.BaseURL = u } }

// WithMaxRetries overrides the retry attempt ceiling for transient errors.
func WithMaxRetries(n int) Option { return func(c *Client) { c.MaxRetries = n } }

// New constructs a Client for organization org, authenticating REST calls
// via tokens.
func New(org string, tokens *adoauth.Cache, opts ...Option) *Client {
	c := &Client{
		Organization: org,
		Tokens:       tokens,
		HTTP:         &http.Client{Timeout: DefaultCallTimeout},
		Limiter:      rate.NewLimiter(rate.Limit(10), 20),
		BaseURL:      "https://dev.azure.com",
		MaxRetries:   4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(project, path string, query string) string {
	base := fmt.Sprintf("%s/%s", c.BaseURL, c.Organization)
	if project != "" {
		base += "/" + project
	}
	base += "/_apis/" + path
	if query != "" {
		base += "?" + query
	}
	return base
}

// do issues an authenticated HTTP request, applying the rate gate and
// retrying transient failures (5xx, 429) with exponential backoff up to
// MaxRetries, per spec §4.4 "Transient HTTP errors ... retry with
// exponential backoff up to a bounded attempt count; 4xx other than 429 are
// reported immediately."
func (c *Client) do(ctx context.Context, method, url string, body any) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, adoerrors.Wrap(adoerrors.KindInternal, "encode request body", err)
		}
	}

	var lastErr error
	attempts := c.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, 0, adoerrors.Wrap(adoerrors.KindInternal, "rate limiter wait", err)
		}

		status, respBody, err := c.attempt(ctx, method, url, payload)
		if err == nil && status < 400 {
			return respBody, status, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("ado http %d: %s", status, string(respBody))
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, status, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		// Non-retryable 4xx: report immediately.
		if status == http.StatusTooManyRequests {
			return nil, status, adoerrors.Wrap(adoerrors.KindRateLimited, "rate limited", lastErr)
		}
		return respBody, status, adoerrors.Wrap(adoerrors.KindUpstream, fmt.Sprintf("ado returned %d", status), lastErr)
	}
	return nil, http.StatusTooManyRequests, adoerrors.Wrap(adoerrors.KindRateLimited, "rate limited or upstream unavailable after retries exhausted", lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/json-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return 0, nil, adoerrors.Wrap(adoerrors.KindAuthenticationMiss, "acquire ado token", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
