package adoauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Azure CLI / OAuth authentication itself is out of scope for this server
// (spec §1): both sources below are thin, swappable adapters that produce an
// opaque Token for the Cache above. Production deployments are expected to
// supply their own Source wired to whatever identity stack they run.

// CLISource acquires a token by shelling out to `az account get-access-token`,
// the same mechanism the legacy tool surface's PWSH_PATH-era scripts used.
// It is the only source accepted for Analytics/OData (spec §6.3: "Analytics
// rejects OAuth tokens").
type CLISource struct {
	// Resource is the Azure resource URI to request a token for (e.g. ADO's
	// "499b84ac-1321-427f-aa17-267ca6975798" application id, or the
	// Analytics resource when a distinct one is required).
	Resource string
	// Runner executes the CLI command; overridable in tests. Defaults to
	// exec.CommandContext.
	Runner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}

type azTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
}

// Acquire implements Source.
func (s CLISource) Acquire(ctx context.Context) (Token, error) {
	runner := s.Runner
	if runner == nil {
		runner = defaultRunner
	}
	args := []string{"account", "get-access-token", "--output", "json"}
	if s.Resource != "" {
		args = append(args, "--resource", s.Resource)
	}
	out, err := runner(ctx, "az", args...)
	if err != nil {
		return Token{}, fmt.Errorf("az login required: %w", err)
	}
	var resp azTokenResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return Token{}, fmt.Errorf("parse az token response: %w", err)
	}
	if resp.AccessToken == "" {
		return Token{}, fmt.Errorf("az returned an empty access token")
	}
	expiresAt, err := parseAzExpiry(resp.ExpiresOn)
	if err != nil {
		expiresAt = time.Now().Add(50 * time.Minute)
	}
	return Token{Value: resp.AccessToken, ExpiresAt: expiresAt}, nil
}

func parseAzExpiry(s string) (time.Time, error) {
	layouts := []string{"2006-01-02 15:04:05.000000", "2006-01-02T15:04:05Z07:00", time.RFC3339}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry format %q", s)
}

// CLIAvailability checks whether the `az` binary can answer
// `az account show`, for the Tool Dispatcher's pre-check on OData-dependent
// tools (spec §4.7 step 4). It implements dispatcher.CLIChecker.
type CLIAvailability struct {
	Runner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Available implements dispatcher.CLIChecker.
func (c CLIAvailability) Available(ctx context.Context) bool {
	runner := c.Runner
	if runner == nil {
		runner = defaultRunner
	}
	_, err := runner(ctx, "az", "account", "show", "--output", "none")
	return err == nil
}

// StaticSource wraps an already-acquired OAuth token (e.g. one the MCP
// host's own auth flow handed the process at startup). It never refreshes;
// callers needing refresh should wrap a real OAuth client instead.
type StaticSource struct {
	Token Token
}

// Acquire implements Source.
func (s StaticSource) Acquire(context.Context) (Token, error) {
	if s.Token.Value == "" {
		return Token{}, fmt.Errorf("no static token configured")
	}
	return s.Token, nil
}
