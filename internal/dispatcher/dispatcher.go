// Package dispatcher implements the Tool Dispatcher (spec §4.7): routing an
// incoming MCP tool call to its handler, validating arguments against the
// tool's declared JSON Schema, merging configured defaults, and guaranteeing
// every call returns a well-formed envelope.Envelope, never an escaping
// panic or raw error.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/envelope"
)

// HandlerFunc executes a tool call whose arguments have already passed
// schema validation and default-merging. It returns the envelope the
// dispatcher forwards to the caller unchanged.
type HandlerFunc func(ctx context.Context, args map[string]any) (envelope.Envelope, error)

// Tool is one entry in the registry.
type Tool struct {
	Name        string
	Schema      map[string]any // JSON Schema document for arguments
	Handler     HandlerFunc
	LegacyNames []string // additional names routed to the same handler
	RequiresCLI bool     // true for tools (OData) that need `az` on PATH
}

// CLIChecker reports whether the Azure CLI is available, for tools that
// require it (spec §4.7 step 4).
type CLIChecker interface {
	Available(ctx context.Context) bool
}

// Defaults holds configured fallback values merged into tool arguments at
// precedence (b) (spec §4.7 step 3): organization, project, area path,
// default work-item type, priority, assignee.
type Defaults struct {
	Organization       string
	Project            string
	AreaPath           string
	DefaultWorkItemType string
	Priority           string
	Assignee           string
}

func (d Defaults) asMap() map[string]any {
	m := map[string]any{}
	if d.Organization != "" {
		m["organization"] = d.Organization
	}
	if d.Project != "" {
		m["project"] = d.Project
	}
	if d.AreaPath != "" {
		m["areaPath"] = d.AreaPath
	}
	if d.DefaultWorkItemType != "" {
		m["workItemType"] = d.DefaultWorkItemType
	}
	if d.Priority != "" {
		m["priority"] = d.Priority
	}
	if d.Assignee != "" {
		m["assignedTo"] = d.Assignee
	}
	return m
}

// Telemetry receives opt-in, content-free call metrics (spec §4.7 step 6:
// "no work-item content, titles, or user identifiers").
type Telemetry interface {
	RecordCall(ctx context.Context, tool string, duration time.Duration, success bool, apiCalls int)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordCall(context.Context, string, time.Duration, bool, int) {}

// Dispatcher is the tool registry plus call-routing logic.
type Dispatcher struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	aliases   map[string]string // legacy name -> canonical name
	defaults  Defaults
	cli       CLIChecker
	telemetry Telemetry
	compiled  map[string]*jsonschema.Schema
}

// New constructs an empty Dispatcher.
func New(defaults Defaults, cli CLIChecker, telemetry Telemetry) *Dispatcher {
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	return &Dispatcher{
		tools:     map[string]*Tool{},
		aliases:   map[string]string{},
		defaults:  defaults,
		cli:       cli,
		telemetry: telemetry,
		compiled:  map[string]*jsonschema.Schema{},
	}
}

// Register adds tool to the registry, compiling its schema once up front.
// Duplicate canonical or legacy names are rejected (spec §4.7: "Duplicate
// names MUST be rejected at startup").
func (d *Dispatcher) Register(tool *Tool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tools[tool.Name]; exists {
		return fmt.Errorf("dispatcher: duplicate tool name %q", tool.Name)
	}
	if _, exists := d.aliases[tool.Name]; exists {
		return fmt.Errorf("dispatcher: name %q already registered as an alias", tool.Name)
	}
	for _, alias := range tool.LegacyNames {
		if _, exists := d.tools[alias]; exists {
			return fmt.Errorf("dispatcher: legacy alias %q collides with a tool name", alias)
		}
		if _, exists := d.aliases[alias]; exists {
			return fmt.Errorf("dispatcher: duplicate legacy alias %q", alias)
		}
	}

	if tool.Schema != nil {
		compiled, err := compileSchema(tool.Name, tool.Schema)
		if err != nil {
			return fmt.Errorf("dispatcher: compile schema for %q: %w", tool.Name, err)
		}
		d.compiled[tool.Name] = compiled
	}

	d.tools[tool.Name] = tool
	for _, alias := range tool.LegacyNames {
		d.aliases[alias] = tool.Name
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	resourceName := name + ".json"
	if err := c.AddResource(resourceName, schema); err != nil {
		return nil, err
	}
	return c.Compile(resourceName)
}

// List returns every registered tool name (canonical only), sorted, for
// tools/list.
func (d *Dispatcher) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) resolve(name string) *Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.tools[name]; ok {
		return t
	}
	if canonical, ok := d.aliases[name]; ok {
		return d.tools[canonical]
	}
	return nil
}

// Call routes one tools/call invocation through validation, default
// merging, the CLI precheck, and the handler, per spec §4.7. It never
// returns an error: every failure mode is folded into the returned
// envelope so the MCP transport always has something JSON-serializable to
// send back.
func (d *Dispatcher) Call(ctx context.Context, name string, rawArgs map[string]any) (env envelope.Envelope) {
	start := time.Now()
	success := false
	defer func() {
		if r := recover(); r != nil {
			env = envelope.Fail(name, adoerrors.Newf(adoerrors.KindInternal, "panic in tool handler: %v", r))
		}
		d.telemetry.RecordCall(ctx, name, time.Since(start), success, 0)
	}()

	tool := d.resolve(name)
	if tool == nil {
		return envelope.FailWithErrors(name, adoerrors.KindValidation, []string{"unknown tool: " + name})
	}
	canonicalName := tool.Name
	deprecated := canonicalName != name

	args, err := d.mergeDefaults(tool, rawArgs)
	if err != nil {
		return envelope.Fail(canonicalName, err)
	}

	if tool.RequiresCLI && d.cli != nil && !d.cli.Available(ctx) {
		return envelope.Fail(canonicalName, adoerrors.New(adoerrors.KindAuthenticationMiss,
			"this tool requires the Azure CLI; run `az login` and ensure `az` is on PATH"))
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return envelope.Fail(canonicalName, err)
	}
	if deprecated {
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		result.Metadata["deprecated"] = true
	}
	success = result.Success
	return result
}

// mergeDefaults validates rawArgs against tool's schema (if any) and merges
// configured defaults at precedence (b), below explicit args (a). Schema
// "default" values are not filled in: validation only checks the merged
// map, which is returned as merged, and handlers apply their own fallbacks
// for arguments that are still absent.
func (d *Dispatcher) mergeDefaults(tool *Tool, rawArgs map[string]any) (map[string]any, error) {
	merged := map[string]any{}
	for k, v := range d.defaults.asMap() {
		merged[k] = v
	}
	for k, v := range rawArgs {
		merged[k] = v // explicit args always win over configured defaults
	}

	d.mu.RLock()
	compiled, hasSchema := d.compiled[tool.Name]
	d.mu.RUnlock()
	if !hasSchema {
		return merged, nil
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindValidation, "marshal tool arguments", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindValidation, "decode tool arguments", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, adoerrors.Wrap(adoerrors.KindValidation, "tool argument validation failed", err).
			WithDetails(map[string]any{"tool": tool.Name})
	}
	return merged, nil
}
