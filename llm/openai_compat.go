package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CompatClient talks to OpenAI-compatible APIs. OpenAI, xAI and LM Studio
// all share this wire format for chat completions and embeddings.
type CompatClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCompatClient creates a client for an OpenAI-compatible endpoint.
// baseURL includes the path prefix, e.g. "https://api.openai.com/v1".
func NewCompatClient(baseURL, apiKey string) *CompatClient {
	// Timeout kept generous for local providers which may load a model on
	// first request.
	return &CompatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

const (
	maxRetries        = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second // minimum delay for 429 errors
)

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// doPost sends a JSON request with retries and returns the response body.
func (c *CompatClient) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// post sends a JSON request with retries and returns the open response on
// status 200. The caller owns the body.
func (c *CompatClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("llm: retrying request",
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Retry on network/timeout errors (not context cancellation).
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))

		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		// 429s get longer delays, honoring Retry-After when present.
		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitDelay := minRateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					headerDelay := time.Duration(seconds) * time.Second
					if headerDelay > rateLimitDelay {
						rateLimitDelay = headerDelay
					}
				}
			}
			slog.Warn("llm: rate limited, waiting before retry",
				"url", url,
				"attempt", attempt+1,
				"delay", rateLimitDelay,
			)
			select {
			case <-time.After(rateLimitDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// --- embeddings ---

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embeddings returns one vector per input text, in input order.
func (c *CompatClient) Embeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	respBody, err := c.doPost(ctx, "/embeddings", embeddingRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	// Sort by index to ensure correct ordering
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
	}
	return embeddings, nil
}

// --- streaming chat ---

type compatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []compatPart for vision
}

type compatPart struct {
	Type     string          `json:"type"` // "text" or "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL *compatImageURL `json:"image_url,omitempty"`
}

type compatImageURL struct {
	URL string `json:"url"`
}

type compatChatRequest struct {
	Model         string          `json:"model"`
	Messages      []compatMessage `json:"messages"`
	Stream        bool            `json:"stream"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// buildCompatMessages converts messages to the wire shape, inlining document
// text and encoding images as data URLs when allowImages is set.
func buildCompatMessages(messages []Message, allowImages bool) []compatMessage {
	out := make([]compatMessage, 0, len(messages))
	for _, m := range messages {
		text := inlineDocuments(m.Content, m.Attachments, false)
		imgs := imageAttachments(m.Attachments)

		if !allowImages || len(imgs) == 0 {
			out = append(out, compatMessage{Role: m.Role, Content: text})
			continue
		}

		parts := []compatPart{{Type: "text", Text: text}}
		for _, img := range imgs {
			parts = append(parts, compatPart{
				Type: "image_url",
				ImageURL: &compatImageURL{
					URL: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				},
			})
		}
		out = append(out, compatMessage{Role: m.Role, Content: parts})
	}
	return out
}

// streamChat opens a streaming completion and relays SSE chunks as events.
// The HTTP request (with retries) happens before the channel is returned so
// configuration errors surface synchronously.
func (c *CompatClient) streamChat(ctx context.Context, req ChatRequest, allowImages bool) (<-chan Event, error) {
	body := compatChatRequest{
		Model:         req.Model,
		Messages:      buildCompatMessages(req.Messages, allowImages),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		MaxTokens:     req.MaxTokens,
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
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
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk compatChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				slog.Debug("llm: skipping malformed stream chunk", "error", err)
				continue
			}

			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
				usage.TotalTokens = chunk.Usage.TotalTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				delta := chunk.Choices[0].Delta.Content
				full.WriteString(delta)
				if !sendEvent(ctx, ch, Event{Type: EventContent, Content: delta}) {
					return
				}
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
