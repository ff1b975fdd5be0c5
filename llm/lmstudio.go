package llm

import (
	"context"
	"strings"

	simplychat "github.com/simplyai/simplychat"
)

// lmStudioProvider streams completions from LM Studio, which exposes an
// OpenAI-compatible API on localhost.
type lmStudioProvider struct {
	base          *CompatClient
	visionEnabled bool
}

func newLMStudio(cfg Config) Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:1234/v1/chat/completions"
	}
	// The admin-configured URL points at the chat completions endpoint;
	// the client wants the path prefix.
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/chat/completions")

	return &lmStudioProvider{
		base:          NewCompatClient(baseURL, cfg.APIKey),
		visionEnabled: cfg.VisionEnabled,
	}
}

func (p *lmStudioProvider) Name() string { return ProviderLMStudio }

func (p *lmStudioProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if hasImages(req.Messages) && !p.visionEnabled {
		return nil, simplychat.ErrVisionNotSupported
	}
	return p.base.streamChat(ctx, req, p.visionEnabled)
}
