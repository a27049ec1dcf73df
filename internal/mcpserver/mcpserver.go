// Package mcpserver adapts the Tool Dispatcher, prompt loader, and resource
// provider onto the MCP stdio transport. Per spec.md §1, "the stdio/SSE
// transport layer and MCP JSON-RPC framing" are provided by the MCP SDK
// rather than hand-rolled here; this package is the thin collaborator that
// wires this server's domain logic onto that SDK.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/prompts"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/resources"
)

// Server wraps an *server.MCPServer, routing tools/call through a
// dispatcher.Dispatcher and prompts/resources through this server's own
// loaders.
type Server struct {
	mcp      *server.MCPServer
	dispatch *dispatcher.Dispatcher
}

// ToolDef describes one tool as exposed over MCP: its JSON Schema input
// shape and human-readable description, alongside its dispatcher name.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// New constructs a Server bound to dispatch for tools/call and to loader/
// provider for prompts/* and resources/*.
func New(name, version string, dispatch *dispatcher.Dispatcher, loader *prompts.Loader, provider *resources.Provider) *Server {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithResourceCapabilities(true, true),
	)
	srv := &Server{mcp: s, dispatch: dispatch}
	if loader != nil {
		srv.registerPrompts(loader)
	}
	if provider != nil {
		srv.registerResources(provider)
	}
	return srv
}

// RegisterTool exposes one dispatcher tool over MCP tools/list and
// tools/call, marshaling its JSON Schema and routing invocations through
// dispatch.Call. The dispatcher envelope, not a raw Go error, is always
// what reaches the MCP client: dispatcher.Call never returns an error.
func (s *Server) RegisterTool(def ToolDef) error {
	schemaJSON, err := json.Marshal(def.Schema)
	if err != nil {
		return fmt.Errorf("mcpserver: marshal schema for %q: %w", def.Name, err)
	}
	tool := mcp.NewToolWithRawSchema(def.Name, def.Description, schemaJSON)
	s.mcp.AddTool(tool, s.handlerFor(def.Name))
	return nil
}

func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		env := s.dispatch.Call(ctx, name, args)
		payload, err := json.Marshal(env)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		result := mcp.NewToolResultText(string(payload))
		result.IsError = !env.Success
		return result, nil
	}
}

// registerPrompts registers every prompt loader.List() returns, resolving
// them through loader.Render at call time.
func (s *Server) registerPrompts(loader *prompts.Loader) {
	for _, p := range loader.List() {
		p := p
		mcpPrompt := mcp.NewPrompt(p.Name, mcp.WithPromptDescription(p.Description))
		s.mcp.AddPrompt(mcpPrompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			vars := make(map[string]string, len(req.Params.Arguments))
			for k, v := range req.Params.Arguments {
				vars[k] = v
			}
			text, err := loader.Render(p.Name, vars)
			if err != nil {
				return nil, err
			}
			return mcp.NewGetPromptResult(p.Description, []mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			}), nil
		})
	}
}

// registerResources registers every ado://docs/... resource provider.List()
// advertises, serving bytes through provider.Read at call time.
func (s *Server) registerResources(provider *resources.Provider) {
	for _, r := range provider.List() {
		r := r
		res := mcp.NewResource(r.URI, r.Name, mcp.WithResourceDescription(r.Description), mcp.WithMIMEType(r.MIMEType))
		s.mcp.AddResource(res, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			body, mimeType, err := provider.Read(req.Params.URI)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: req.Params.URI, MIMEType: mimeType, Text: body},
			}, nil
		})
	}
}

// ServeStdio blocks, serving MCP requests over stdin/stdout until ctx is
// canceled or the transport closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, stdin(), stdout())
}
