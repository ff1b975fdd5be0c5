package llm

import "context"

// openAIProvider streams completions from the OpenAI API.
type openAIProvider struct {
	base *CompatClient
}

func newOpenAI(cfg Config) Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openAIProvider{base: NewCompatClient(baseURL, cfg.APIKey)}
}

func (p *openAIProvider) Name() string { return ProviderOpenAI }

func (p *openAIProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	return p.base.streamChat(ctx, req, true)
}
