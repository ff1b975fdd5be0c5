package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// geminiProvider streams completions from the Gemini API. System messages
// collapse into a single system instruction and assistant turns map to the
// "model" role.
type geminiProvider struct {
	apiKey string
}

func newGemini(cfg Config) Provider {
	return &geminiProvider{apiKey: cfg.APIKey}
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func (p *geminiProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	contents, config := buildGeminiRequest(req)

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)

		var full strings.Builder
		var usage Usage

		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				if ctx.Err() == nil {
					fail(ctx, ch, fmt.Errorf("gemini stream: %w", err))
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if text := resp.Text(); text != "" {
				full.WriteString(text)
				if !sendEvent(ctx, ch, Event{Type: EventContent, Content: text}) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}

		finish(ctx, ch, req.Messages, full.String(), usage)
	}()

	return ch, nil
}

// buildGeminiRequest converts messages to Gemini contents. All system
// messages are joined into one system instruction, preserving order.
func buildGeminiRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []string
	var contents []*genai.Content

	for _, m := range req.Messages {
		if m.Role == "system" {
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
			continue
		}

		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}

		parts := []*genai.Part{{Text: inlineDocuments(m.Content, m.Attachments, false)}}
		for _, img := range imageAttachments(m.Attachments) {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
			})
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	return contents, config
}
