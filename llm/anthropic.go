package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens caps completions when the request does not set
// its own limit. The Messages API requires an explicit max_tokens.
const anthropicDefaultMaxTokens = 8192

// anthropicProvider streams completions from the Anthropic Messages API.
// Images and PDFs ride as native content blocks; other documents are
// inlined as text.
type anthropicProvider struct {
	client sdk.Client
}

func newAnthropic(cfg Config) Provider {
	return &anthropicProvider{client: sdk.NewClient(option.WithAPIKey(cfg.APIKey))}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		var full strings.Builder
		var usage Usage

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case sdk.MessageStartEvent:
				usage.InputTokens = int(ev.Message.Usage.InputTokens)
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
					full.WriteString(delta.Text)
					if !sendEvent(ctx, ch, Event{Type: EventContent, Content: delta.Text}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				usage.OutputTokens = int(ev.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			fail(ctx, ch, fmt.Errorf("anthropic stream: %w", err))
			return
		}
		if ctx.Err() != nil {
			return
		}

		finish(ctx, ch, req.Messages, full.String(), usage)
	}()

	return ch, nil
}

// buildAnthropicParams converts the request to Messages API parameters.
// System messages move to the top-level system field.
func buildAnthropicParams(req ChatRequest) (*sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" {
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
			continue
		}

		// PDFs become native document blocks, so skip them when inlining.
		text := inlineDocuments(m.Content, m.Attachments, true)
		blocks := []sdk.ContentBlockParamUnion{sdk.NewTextBlock(text)}

		for _, a := range m.Attachments {
			switch {
			case a.IsImage() && len(a.Data) > 0:
				blocks = append(blocks, sdk.NewImageBlockBase64(a.MIMEType, base64.StdEncoding.EncodeToString(a.Data)))
			case a.IsPDF() && len(a.Data) > 0:
				blocks = append(blocks, sdk.ContentBlockParamUnion{
					OfDocument: &sdk.DocumentBlockParam{
						Source: sdk.DocumentBlockParamSourceUnion{
							OfBase64: &sdk.Base64PDFSourceParam{
								Data: base64.StdEncoding.EncodeToString(a.Data),
							},
						},
					},
				})
			}
		}

		switch m.Role {
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	return params, nil
}
