package aiquery

import (
	"context"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
)

// Provider performs a direct model-API completion, bypassing the MCP
// sampling round trip entirely. It shares Sampler's shape on purpose: any
// Provider can stand in as a Sampler, which is how FallbackSampler composes
// one with a primary MCP Sampler.
type Provider interface {
	CreateMessage(ctx context.Context, req SamplingRequest) (string, error)
}

// FallbackSampler tries Primary first. If Primary fails with
// KindSamplingUnavailable (the connected MCP host never declared sampling
// capability) and a Provider has been configured, it retries against the
// Provider instead of letting SamplingUnavailable end the generate-query
// call (spec §4.6, §7). Any other error from Primary, or no Provider
// configured, is returned unchanged: direct providers are an operator
// opt-in, never a silent substitute for the primary MCP sampling path.
type FallbackSampler struct {
	Primary  Sampler
	Provider Provider
}

// NewFallbackSampler builds a FallbackSampler. provider may be nil, in which
// case it behaves exactly like primary alone.
func NewFallbackSampler(primary Sampler, provider Provider) FallbackSampler {
	return FallbackSampler{Primary: primary, Provider: provider}
}

// CreateMessage implements Sampler.
func (f FallbackSampler) CreateMessage(ctx context.Context, req SamplingRequest) (string, error) {
	text, err := f.Primary.CreateMessage(ctx, req)
	if err == nil || f.Provider == nil {
		return text, err
	}
	if adoerrors.KindOf(err) != adoerrors.KindSamplingUnavailable {
		return text, err
	}
	return f.Provider.CreateMessage(ctx, req)
}
