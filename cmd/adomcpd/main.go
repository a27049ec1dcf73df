// Command adomcpd is the MCP stdio server bridging an LLM host to Azure
// DevOps work-item management: Query Handle subsystem, Item Selector,
// Tool Dispatcher, Bulk Operation engine, and AI Query Generator.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoauth"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoclient"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery/directprovider"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/bulk"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/bulk/temporalengine"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/config"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/mcpserver"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/odata"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/prompts"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/queryexec"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/resources"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/telemetry"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo/mongoundo"
)

const (
	analyticsResource = "https://analysis.windows.net/powerbi/api"
	adoResource       = "499b84ac-1321-427f-aa17-267ca6975798"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv("ADOMCPD_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewLogger()
	logger.Info(ctx, "starting adomcpd", "organization", cfg.Organization, "project", cfg.Project)

	var tokenBackend adoauth.Backend
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error(ctx, "invalid redis url", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		tokenBackend = adoauth.NewRedisBackend(rdb, "adomcpd:token:")
		logger.Info(ctx, "using shared redis token cache")
	}

	restTokens := adoauth.NewCache(adoauth.CLISource{Resource: adoResource}, "rest", 2*time.Minute, tokenBackend)
	analyticsTokens := adoauth.NewCache(adoauth.CLISource{Resource: analyticsResource}, "analytics", 2*time.Minute, tokenBackend)

	ado := adoclient.New(cfg.Organization, restTokens)
	odataClient := odata.New(cfg.Organization, analyticsTokens)
	store := handlestore.New()

	var journal undo.Journal
	if cfg.MongoURL != "" {
		mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			logger.Error(ctx, "mongo connect failed", err)
			os.Exit(1)
		}
		collection := mongoClient.Database("adomcpd").Collection("undo_journal")
		journal = mongoundo.New(collection)
		logger.Info(ctx, "using durable mongo undo journal")
	} else {
		journal = undo.NewMemory()
	}

	var bulkEngine bulk.Engine
	if cfg.TemporalHostPort != "" {
		temporal, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalHostPort})
		if err != nil {
			logger.Error(ctx, "temporal dial failed", err)
			os.Exit(1)
		}
		bulkEngine = temporalengine.New(temporal, "adomcpd-bulk")
		logger.Info(ctx, "using durable temporal bulk engine")
	} else {
		bulkEngine = bulk.New(ado, store, journal, nil)
	}
	undoApplier := undo.Applier{Journal: journal, Writer: bulkUndoWriter{ado, cfg.Project}}
	executor := queryexec.New(ado, odataClient, store)

	fallbackProvider, err := directprovider.New(ctx, cfg.DirectProvider, cfg.DirectProviderModel, map[string]string{
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
		"openai":    os.Getenv("OPENAI_API_KEY"),
	})
	if err != nil {
		logger.Error(ctx, "direct provider setup failed", err)
		os.Exit(1)
	}
	var generatorSampler aiquery.Sampler = mcpserver.NewSampler()
	if fallbackProvider != nil {
		generatorSampler = aiquery.NewFallbackSampler(generatorSampler, fallbackProvider)
		logger.Info(ctx, "direct provider configured as sampling fallback", "provider", cfg.DirectProvider)
	}
	tester := aiquery.ADOTester{Executor: executor, OData: odataClient, Project: cfg.Project}
	generator := aiquery.New(generatorSampler, tester)

	cli := adoauth.CLIAvailability{}
	var toolTelemetry dispatcher.Telemetry = telemetry.NewToolMetrics()
	if rdb != nil {
		if pulseEvents, err := telemetry.NewPulseEvents(rdb, "adomcpd:tool-calls"); err != nil {
			logger.Error(ctx, "pulse stream setup failed, continuing without it", err)
		} else {
			toolTelemetry = telemetry.MultiTelemetry{telemetry.NewToolMetrics(), pulseEvents}
		}
	}
	d := dispatcher.New(cfg.Defaults, cli, toolTelemetry)

	if err := registerTools(d, executor, bulkEngine, undoApplier, generator, store, cfg); err != nil {
		logger.Error(ctx, "tool registration failed", err)
		os.Exit(1)
	}

	promptLoader, err := prompts.Load(envOr("ADOMCPD_PROMPTS_DIR", "prompts"))
	if err != nil {
		logger.Error(ctx, "prompt load failed", err)
		os.Exit(1)
	}
	resourceProvider, err := resources.Load(envOr("ADOMCPD_RESOURCES_DIR", "resources"))
	if err != nil {
		logger.Error(ctx, "resource load failed", err)
		os.Exit(1)
	}

	srv := mcpserver.New("ado-mcp", "0.9.0", d, promptLoader, resourceProvider)
	for _, def := range toolDefs() {
		if err := srv.RegisterTool(def); err != nil {
			logger.Error(ctx, "mcp tool registration failed", err)
			os.Exit(1)
		}
	}

	if err := srv.ServeStdio(ctx); err != nil {
		logger.Error(ctx, "mcp server exited", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
