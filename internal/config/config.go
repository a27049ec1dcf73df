// Package config parses this server's CLI arguments and an optional YAML
// config file into the configured defaults the Tool Dispatcher merges
// under explicit tool arguments (spec §6.2, §4.7).
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
)

// Config is the fully resolved server configuration.
type Config struct {
	Organization string
	AreaPaths    []string
	CopilotGUID  string
	Project      string // derived: first segment of AreaPaths[0]

	Debug            bool
	EnableDebugTools bool
	PwshPath         string

	// RedisURL, MongoURL, and TemporalHostPort opt this process into a shared
	// token cache (plus the Pulse tool-call event stream), a durable Undo
	// Journal, and a durable Bulk Engine, respectively. Empty means the
	// in-process default for that collaborator. The ADO rate limiter is
	// always in-process.
	RedisURL         string
	MongoURL         string
	TemporalHostPort string

	// DirectProvider opts the AI Query Generator into a direct-call fallback
	// ("anthropic", "openai", or "bedrock") used only when the connected MCP
	// host declares no sampling capability. Empty means MCP sampling is the
	// only path, and SamplingUnavailable is terminal.
	DirectProvider      string
	DirectProviderModel string

	Defaults dispatcher.Defaults
}

// fileConfig is the shape of the optional YAML config file layered under
// CLI flags (CLI always wins; this supplies configured defaults like
// priority and assignee that have no CLI flag of their own).
type fileConfig struct {
	DefaultWorkItemType string `yaml:"defaultWorkItemType"`
	Priority            string `yaml:"priority"`
	Assignee            string `yaml:"assignee"`
}

// areaPathFlags collects repeated --area-path flags into a slice.
type areaPathFlags []string

func (a *areaPathFlags) String() string { return strings.Join(*a, ",") }
func (a *areaPathFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

// Parse reads args (normally os.Args[1:]) and, if configPath is non-empty,
// layers values from that YAML file under the parsed flags.
func Parse(args []string, configPath string) (Config, error) {
	fs := flag.NewFlagSet("adomcpd", flag.ContinueOnError)
	var areaPaths areaPathFlags
	fs.Var(&areaPaths, "area-path", "area path scoping this server (repeatable, 1+ required)")
	copilotGUID := fs.String("copilot-guid", "", "GUID of the Copilot identity (stored in the configuration; no tool reads it)")
	cfgFile := fs.String("config", configPath, "optional YAML file of configured tool-argument defaults")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	positional := fs.Args()
	if len(positional) < 1 {
		return Config{}, fmt.Errorf("config: missing required <organization> argument")
	}
	if len(areaPaths) == 0 {
		return Config{}, fmt.Errorf("config: at least one --area-path is required")
	}

	cfg := Config{
		Organization:        positional[0],
		AreaPaths:           areaPaths,
		CopilotGUID:         *copilotGUID,
		Project:             firstSegment(areaPaths[0]),
		Debug:               os.Getenv("MCP_DEBUG") == "1",
		EnableDebugTools:    os.Getenv("MCP_ENABLE_DEBUG_TOOLS") == "1",
		PwshPath:            os.Getenv("PWSH_PATH"),
		RedisURL:            os.Getenv("ADOMCPD_REDIS_URL"),
		MongoURL:            os.Getenv("ADOMCPD_MONGO_URL"),
		TemporalHostPort:    os.Getenv("ADOMCPD_TEMPORAL_HOSTPORT"),
		DirectProvider:      os.Getenv("ADOMCPD_DIRECT_PROVIDER"),
		DirectProviderModel: os.Getenv("ADOMCPD_DIRECT_PROVIDER_MODEL"),
	}
	cfg.Defaults = dispatcher.Defaults{
		Organization: cfg.Organization,
		Project:      cfg.Project,
		AreaPath:     areaPaths[0],
	}

	if *cfgFile != "" {
		fc, err := loadFile(*cfgFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Defaults.DefaultWorkItemType = fc.DefaultWorkItemType
		cfg.Defaults.Priority = fc.Priority
		cfg.Defaults.Assignee = fc.Assignee
	}
	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

// firstSegment derives the project name from the first backslash-delimited
// segment of an area path, per spec §6.2.
func firstSegment(areaPath string) string {
	if i := strings.IndexByte(areaPath, '\\'); i >= 0 {
		return areaPath[:i]
	}
	return areaPath
}
