package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	simplychat "github.com/simplyai/simplychat"
)

// ollamaProvider streams completions from Ollama's native /api/chat
// endpoint, which reports token counts in its final chunk and takes images
// per message rather than as content parts.
type ollamaProvider struct {
	chatURL       string
	client        *http.Client
	visionEnabled bool
}

func newOllama(cfg Config) Provider {
	chatURL := cfg.BaseURL
	if chatURL == "" {
		chatURL = "http://localhost:11434/api/chat"
	}
	return &ollamaProvider{
		chatURL:       chatURL,
		client:        &http.Client{Timeout: 300 * time.Second},
		visionEnabled: cfg.VisionEnabled,
	}
}

func (p *ollamaProvider) Name() string { return ProviderOllama }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *ollamaProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if hasImages(req.Messages) && !p.visionEnabled {
		return nil, simplychat.ErrVisionNotSupported
	}

	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMessage{
			Role:    m.Role,
			Content: inlineDocuments(m.Content, m.Attachments, false),
		}
		if p.visionEnabled {
			for _, img := range imageAttachments(m.Attachments) {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img.Data))
			}
		}
		msgs = append(msgs, om)
	}

	data, err := json.Marshal(ollamaChatRequest{Model: req.Model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.chatURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama request failed: %v", simplychat.ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(body))
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var full strings.Builder
		var usage Usage

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk ollamaChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				fail(ctx, ch, fmt.Errorf("ollama: %s", chunk.Error))
				return
			}

			if chunk.Message.Content != "" {
				full.WriteString(chunk.Message.Content)
				if !sendEvent(ctx, ch, Event{Type: EventContent, Content: chunk.Message.Content}) {
					return
				}
			}
			if chunk.Done {
				usage.InputTokens = chunk.PromptEvalCount
				usage.OutputTokens = chunk.EvalCount
				break
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			fail(ctx, ch, fmt.Errorf("reading stream: %w", err))
			return
		}
		if ctx.Err() != nil {
			return
		}

		finish(ctx, ch, req.Messages, full.String(), usage)
	}()

	return ch, nil
}
