// Package directprovider implements aiquery.Provider directly against the
// three model APIs the AI Query Generator can fall back to when the
// connected MCP host declares no sampling capability: Anthropic, OpenAI, and
// AWS Bedrock. Each adapter is a thin translation to/from a single-turn
// completion; none of the multi-turn, tool-use, or streaming machinery a
// full agent runtime needs applies here; the generator only ever asks for
// one completion per iteration.
package directprovider

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
)

// Anthropic implements aiquery.Provider against the Anthropic Messages API.
type Anthropic struct {
	messages *sdk.MessageService
	model    string
}

// NewAnthropic builds an Anthropic provider. apiKey is passed explicitly
// rather than read from the environment by the SDK, so the caller's
// configuration layer stays the single source of truth for which
// credentials are in play.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("directprovider: anthropic api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("directprovider: anthropic model id is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{messages: &client.Messages, model: model}, nil
}

// CreateMessage implements aiquery.Provider.
func (a *Anthropic) CreateMessage(ctx context.Context, req aiquery.SamplingRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt))},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	msg, err := a.messages.New(ctx, params)
	if err != nil {
		return "", adoerrors.Wrap(adoerrors.KindUpstream, "anthropic messages.new failed", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", adoerrors.New(adoerrors.KindUpstream, "anthropic response contained no text content")
}
