package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_DerivesProjectFromFirstAreaPathSegment(t *testing.T) {
	cfg, err := Parse([]string{"contoso", "--area-path", "Payments\\Team A", "--area-path", "Payments\\Team B"}, "")
	require.NoError(t, err)
	require.Equal(t, "contoso", cfg.Organization)
	require.Equal(t, "Payments", cfg.Project)
	require.Equal(t, []string{"Payments\\Team A", "Payments\\Team B"}, cfg.AreaPaths)
}

func TestParse_RequiresOrganizationAndAreaPath(t *testing.T) {
	_, err := Parse([]string{}, "")
	require.Error(t, err)

	_, err = Parse([]string{"contoso"}, "")
	require.Error(t, err)
}

func TestParse_LayersYAMLDefaultsUnderFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaultWorkItemType: Bug\npriority: 2\nassignee: alice@example.com\n"), 0o644))

	cfg, err := Parse([]string{"contoso", "--area-path", "Payments"}, path)
	require.NoError(t, err)
	require.Equal(t, "Bug", cfg.Defaults.DefaultWorkItemType)
	require.Equal(t, "2", cfg.Defaults.Priority)
	require.Equal(t, "alice@example.com", cfg.Defaults.Assignee)
	require.Equal(t, "contoso", cfg.Defaults.Organization)
}

func TestParse_DebugEnvVars(t *testing.T) {
	t.Setenv("MCP_DEBUG", "1")
	t.Setenv("MCP_ENABLE_DEBUG_TOOLS", "1")
	cfg, err := Parse([]string{"contoso", "--area-path", "Payments"}, "")
	require.NoError(t, err)
	require.True(t, cfg.Debug)
	require.True(t, cfg.EnableDebugTools)
}

func TestParse_OptionalBackendEnvVars(t *testing.T) {
	t.Setenv("ADOMCPD_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ADOMCPD_MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("ADOMCPD_TEMPORAL_HOSTPORT", "localhost:7233")
	cfg, err := Parse([]string{"contoso", "--area-path", "Payments"}, "")
	require.NoError(t, err)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoURL)
	require.Equal(t, "localhost:7233", cfg.TemporalHostPort)
}

func TestParse_DirectProviderEnvVars(t *testing.T) {
	t.Setenv("ADOMCPD_DIRECT_PROVIDER", "anthropic")
	t.Setenv("ADOMCPD_DIRECT_PROVIDER_MODEL", "claude-3-5-haiku-20241022")
	cfg, err := Parse([]string{"contoso", "--area-path", "Payments"}, "")
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.DirectProvider)
	require.Equal(t, "claude-3-5-haiku-20241022", cfg.DirectProviderModel)
}
