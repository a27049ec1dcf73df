package directprovider

import (
	"context"
	"fmt"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/aiquery"
)

// New constructs the configured direct provider by name ("anthropic",
// "openai", "bedrock"). It returns (nil, nil) for an empty name, meaning no
// fallback is configured and the generator relies on MCP sampling alone.
// apiKeys supplies the two key-based providers' credentials; Bedrock instead
// uses the ambient AWS credential chain.
func New(ctx context.Context, name, model string, apiKeys map[string]string) (aiquery.Provider, error) {
	switch name {
	case "":
		return nil, nil
	case "anthropic":
		return NewAnthropic(apiKeys["anthropic"], model)
	case "openai":
		return NewOpenAI(apiKeys["openai"], model)
	case "bedrock":
		return NewBedrock(ctx, model)
	default:
		return nil, fmt.Errorf("directprovider: unknown provider %q", name)
	}
}
