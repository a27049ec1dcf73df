package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
)

// samplingSession is the subset of server.ClientSession this package needs:
// the ability to turn an MCP sampling/createMessage request around to the
// connected host and get its completion back.
type samplingSession interface {
	RequestSampling(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
}

// Sampler implements aiquery.Sampler by issuing sampling/createMessage
// against whichever MCP client session is attached to the call's context.
// A host that never connected with sampling capability surfaces as
// SamplingUnavailable, matching spec §4.6's degraded-mode contract.
type Sampler struct{}

// NewSampler constructs a Sampler. It carries no state: the client session
// travels on ctx, attached by the MCP SDK's stdio transport per request.
func NewSampler() *Sampler {
	return &Sampler{}
}

// CreateMessage implements aiquery.Sampler.
func (Sampler) CreateMessage(ctx context.Context, req aiquery.SamplingRequest) (string, error) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return "", adoerrors.New(adoerrors.KindSamplingUnavailable, "no MCP client session on context")
	}
	sampler, ok := session.(samplingSession)
	if !ok {
		return "", adoerrors.New(adoerrors.KindSamplingUnavailable, "connected MCP host does not support sampling/createMessage")
	}

	hints := make([]mcp.ModelHint, 0, len(req.ModelHints))
	for _, h := range req.ModelHints {
		hints = append(hints, mcp.ModelHint{Name: h.Name})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	result, err := sampler.RequestSampling(ctx, mcp.CreateMessageRequest{
		CreateMessageParams: mcp.CreateMessageParams{
			Messages: []mcp.SamplingMessage{
				{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: req.UserPrompt}},
			},
			SystemPrompt:  req.SystemPrompt,
			MaxTokens:     maxTokens,
			ModelPreferences: &mcp.ModelPreferences{
				Hints: hints,
			},
		},
	})
	if err != nil {
		return "", adoerrors.Wrap(adoerrors.KindSamplingUnavailable, "sampling/createMessage failed", err)
	}
	text, ok := result.Content.(mcp.TextContent)
	if !ok {
		return "", adoerrors.New(adoerrors.KindUpstream, fmt.Sprintf("sampling response was not text content: %T", result.Content))
	}
	return text.Text, nil
}
