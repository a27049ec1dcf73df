package directprovider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
)

// OpenAI implements aiquery.Provider against the Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI provider from an explicit API key and model id.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("directprovider: openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("directprovider: openai model id is required")
	}
	return &OpenAI{client: openai.NewClient(option.WithAPIKey(apiKey)), model: model}, nil
}

// CreateMessage implements aiquery.Provider.
func (o *OpenAI) CreateMessage(ctx context.Context, req aiquery.SamplingRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	})
	if err != nil {
		return "", adoerrors.Wrap(adoerrors.KindUpstream, "openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", adoerrors.New(adoerrors.KindUpstream, "openai response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
