package directprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
)

// Bedrock implements aiquery.Provider against the AWS Bedrock Converse API.
type Bedrock struct {
	runtime *bedrockruntime.Client
	model   string
}

// NewBedrock builds a Bedrock provider, loading AWS credentials from the
// standard chain (environment, shared config, IAM role) via
// config.LoadDefaultConfig.
func NewBedrock(ctx context.Context, model string) (*Bedrock, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("directprovider: bedrock model id is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("directprovider: load aws config: %w", err)
	}
	return &Bedrock{runtime: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

// CreateMessage implements aiquery.Provider.
func (b *Bedrock) CreateMessage(ctx context.Context, req aiquery.SamplingRequest) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.UserPrompt}},
			},
		},
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}

	out, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return "", adoerrors.Wrap(adoerrors.KindUpstream, "bedrock converse failed", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", adoerrors.New(adoerrors.KindUpstream, "bedrock response contained no message")
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok && text.Value != "" {
			return text.Value, nil
		}
	}
	return "", adoerrors.New(adoerrors.KindUpstream, "bedrock response contained no text content")
}
