package llm

import "context"

// xaiProvider streams completions from xAI (Grok), which exposes an
// OpenAI-compatible API.
type xaiProvider struct {
	base *CompatClient
}

func newXAI(cfg Config) Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	return &xaiProvider{base: NewCompatClient(baseURL, cfg.APIKey)}
}

func (p *xaiProvider) Name() string { return ProviderXAI }

func (p *xaiProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	return p.base.streamChat(ctx, req, true)
}
