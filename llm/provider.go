// Package llm adapts the chat providers (Gemini, OpenAI, Anthropic, xAI,
// LM Studio, Ollama) to one streaming interface.
package llm

import (
	"context"
	"fmt"
	"strings"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/tokenizer"
)

// Canonical provider names. These match the admin settings key suffixes.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderXAI       = "xai"
	ProviderLMStudio  = "lm_studio"
	ProviderOllama    = "ollama"
)

// Normalize maps a client-supplied provider name to its canonical form.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "lmstudio" {
		return ProviderLMStudio
	}
	return name
}

// IsLocal reports whether the provider runs on the user's machine and needs
// no API key.
func IsLocal(name string) bool {
	name = Normalize(name)
	return name == ProviderLMStudio || name == ProviderOllama
}

// Provider streams chat completions.
type Provider interface {
	// Name returns the canonical provider name.
	Name() string

	// StreamChat starts a completion and returns an event channel. The
	// channel carries zero or more content events and is closed after
	// exactly one terminal event (done or error). Cancelling ctx aborts
	// the stream.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error)
}

// Config configures a provider instance.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint. Used for LM Studio and
	// Ollama, whose locations are admin-configurable.
	BaseURL string
	// VisionEnabled allows image attachments on local providers, which
	// cannot advertise their own capabilities.
	VisionEnabled bool
}

// New creates a provider from configuration.
func New(cfg Config) (Provider, error) {
	switch Normalize(cfg.Provider) {
	case ProviderGemini:
		return newGemini(cfg), nil
	case ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderAnthropic:
		return newAnthropic(cfg), nil
	case ProviderXAI:
		return newXAI(cfg), nil
	case ProviderLMStudio:
		return newLMStudio(cfg), nil
	case ProviderOllama:
		return newOllama(cfg), nil
	case "":
		return nil, fmt.Errorf("%w: provider not specified", simplychat.ErrUnknownProvider)
	default:
		return nil, fmt.Errorf("%w: %q", simplychat.ErrUnknownProvider, cfg.Provider)
	}
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Message is one conversation turn. System messages carry instructions;
// user messages may carry attachments.
type Message struct {
	Role        string // "system", "user" or "assistant"
	Content     string
	Attachments []Attachment
}

// Attachment is a file sent with a user message. For documents, Text holds
// the pre-extracted content so providers without native file support can
// inline it.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
	Text     string
}

// IsImage reports whether the attachment is an image the provider should
// pass through as visual input.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// IsPDF reports whether the attachment is a PDF document.
func (a Attachment) IsPDF() bool {
	return a.MIMEType == "application/pdf"
}

// EventType discriminates stream events.
type EventType string

const (
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one element of a completion stream.
type Event struct {
	Type EventType
	// Content is the text delta for content events, or the message for
	// error events.
	Content string
	// FullContent is the accumulated response, set on done.
	FullContent string
	// Usage is the token accounting, set on done.
	Usage Usage
}

// Usage is the token accounting for one completion.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Estimated    bool `json:"estimated"`
}

// Respond runs a completion to its terminal event and returns the full
// response text. It is the single-shot form of StreamChat.
func Respond(ctx context.Context, p Provider, req ChatRequest) (string, Usage, error) {
	events, err := p.StreamChat(ctx, req)
	if err != nil {
		return "", Usage{}, err
	}
	var full string
	var usage Usage
	for ev := range events {
		switch ev.Type {
		case EventDone:
			full, usage = ev.FullContent, ev.Usage
		case EventError:
			return "", Usage{}, fmt.Errorf("llm: %s", ev.Content)
		}
	}
	return full, usage, nil
}

// finalizeUsage validates provider-reported counts against the response
// text. Counts that are missing or implausibly large (some local servers
// report garbage) are replaced with a tokenizer estimate.
func finalizeUsage(u Usage, prompt []Message, fullContent string) Usage {
	limit := 2 * len(fullContent)
	if limit < 50 {
		limit = 50
	}
	if u.OutputTokens == 0 && fullContent != "" || u.OutputTokens > limit {
		u.OutputTokens = tokenizer.Count(fullContent)
		u.Estimated = true
	}
	if u.InputTokens == 0 && len(prompt) > 0 {
		u.InputTokens = countPrompt(prompt)
		u.Estimated = true
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}

func countPrompt(messages []Message) int {
	msgs := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		msgs[i] = tokenizer.Message{Content: m.Content}
	}
	return tokenizer.CountConversation(msgs)
}

// inlineDocuments appends the extracted text of non-image attachments to a
// message body. Used by every provider except where a native document block
// is available.
func inlineDocuments(content string, atts []Attachment, skipPDF bool) string {
	var b strings.Builder
	b.WriteString(content)
	for _, a := range atts {
		if a.IsImage() || a.Text == "" {
			continue
		}
		if skipPDF && a.IsPDF() {
			continue
		}
		b.WriteString("\n\n[File: ")
		b.WriteString(a.Name)
		b.WriteString("]\n")
		b.WriteString(a.Text)
	}
	return b.String()
}

// imageAttachments filters the image attachments of a message.
func imageAttachments(atts []Attachment) []Attachment {
	var imgs []Attachment
	for _, a := range atts {
		if a.IsImage() && len(a.Data) > 0 {
			imgs = append(imgs, a)
		}
	}
	return imgs
}

// hasImages reports whether any message carries an image attachment.
func hasImages(messages []Message) bool {
	for _, m := range messages {
		if len(imageAttachments(m.Attachments)) > 0 {
			return true
		}
	}
	return false
}

// sendEvent delivers ev unless ctx is already cancelled.
func sendEvent(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish emits the terminal done event.
func finish(ctx context.Context, ch chan<- Event, prompt []Message, fullContent string, u Usage) {
	sendEvent(ctx, ch, Event{
		Type:        EventDone,
		FullContent: fullContent,
		Usage:       finalizeUsage(u, prompt, fullContent),
	})
}

// fail emits the terminal error event.
func fail(ctx context.Context, ch chan<- Event, err error) {
	sendEvent(ctx, ch, Event{Type: EventError, Content: err.Error()})
}
