package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/envelope"
)

func echoHandler(ctx context.Context, args map[string]any) (envelope.Envelope, error) {
	return envelope.Ok("echo", args), nil
}

func schemaFor(required ...string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": required,
		"properties": map[string]any{
			"project":    map[string]any{"type": "string"},
			"query":      map[string]any{"type": "string"},
			"assignedTo": map[string]any{"type": "string"},
		},
	}
}

func TestRegister_RejectsDuplicateNames(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Handler: echoHandler}))
	err := d.Register(&Tool{Name: "wit-query", Handler: echoHandler})
	require.Error(t, err)
}

func TestRegister_RejectsAliasCollision(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Handler: echoHandler, LegacyNames: []string{"wit-get-query-handle"}}))
	err := d.Register(&Tool{Name: "wit-get-query-handle", Handler: echoHandler})
	require.Error(t, err)
}

func TestCall_UnknownTool_ReturnsFailedEnvelope(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	env := d.Call(context.Background(), "does-not-exist", nil)
	require.False(t, env.Success)
	require.Equal(t, "ValidationError", env.Metadata["errorKind"])
}

func TestCall_ValidatesArgumentsAgainstSchema(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Schema: schemaFor("query"), Handler: echoHandler}))

	env := d.Call(context.Background(), "wit-query", map[string]any{})
	require.False(t, env.Success)

	env = d.Call(context.Background(), "wit-query", map[string]any{"query": "SELECT 1"})
	require.True(t, env.Success)
}

func TestCall_MergesConfiguredDefaultsBelowExplicitArgs(t *testing.T) {
	d := New(Defaults{Project: "configured-project"}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Schema: schemaFor("query"), Handler: echoHandler}))

	env := d.Call(context.Background(), "wit-query", map[string]any{"query": "SELECT 1"})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Equal(t, "configured-project", data["project"])

	env = d.Call(context.Background(), "wit-query", map[string]any{"query": "SELECT 1", "project": "explicit"})
	data = env.Data.(map[string]any)
	require.Equal(t, "explicit", data["project"])
}

func TestCall_LegacyAlias_MarksDeprecatedInMetadata(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Handler: echoHandler, LegacyNames: []string{"wit-get-query-handle"}}))

	env := d.Call(context.Background(), "wit-get-query-handle", map[string]any{})
	require.True(t, env.Success)
	require.Equal(t, true, env.Metadata["deprecated"])

	env = d.Call(context.Background(), "wit-query", map[string]any{})
	require.Nil(t, env.Metadata["deprecated"])
}

type fakeCLI struct{ available bool }

func (f fakeCLI) Available(context.Context) bool { return f.available }

func TestCall_RequiresCLI_FailsWhenUnavailable(t *testing.T) {
	d := New(Defaults{}, fakeCLI{available: false}, nil)
	require.NoError(t, d.Register(&Tool{Name: "odata-query", Handler: echoHandler, RequiresCLI: true}))

	env := d.Call(context.Background(), "odata-query", map[string]any{})
	require.False(t, env.Success)
	require.Equal(t, "AuthenticationMissing", env.Metadata["errorKind"])
}

func TestCall_RequiresCLI_SucceedsWhenAvailable(t *testing.T) {
	d := New(Defaults{}, fakeCLI{available: true}, nil)
	require.NoError(t, d.Register(&Tool{Name: "odata-query", Handler: echoHandler, RequiresCLI: true}))

	env := d.Call(context.Background(), "odata-query", map[string]any{})
	require.True(t, env.Success)
}

func TestCall_HandlerPanic_RecoveredAsInternalError(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "boom", Handler: func(context.Context, map[string]any) (envelope.Envelope, error) {
		panic("unexpected nil pointer")
	}}))

	env := d.Call(context.Background(), "boom", nil)
	require.False(t, env.Success)
	require.Equal(t, "InternalError", env.Metadata["errorKind"])
}

type recordingTelemetry struct {
	calls []string
}

func (r *recordingTelemetry) RecordCall(_ context.Context, tool string, _ time.Duration, success bool, _ int) {
	r.calls = append(r.calls, tool)
	_ = success
}

func TestCall_EmitsTelemetryOnEveryCall(t *testing.T) {
	tel := &recordingTelemetry{}
	d := New(Defaults{}, nil, tel)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Handler: echoHandler}))

	d.Call(context.Background(), "wit-query", nil)
	d.Call(context.Background(), "unknown", nil)
	require.Equal(t, []string{"wit-query", "unknown"}, tel.calls)
}

func TestList_ReturnsSortedCanonicalNames(t *testing.T) {
	d := New(Defaults{}, nil, nil)
	require.NoError(t, d.Register(&Tool{Name: "wit-query", Handler: echoHandler}))
	require.NoError(t, d.Register(&Tool{Name: "bulk-update", Handler: echoHandler}))
	require.Equal(t, []string{"bulk-update", "wit-query"}, d.List())
}
