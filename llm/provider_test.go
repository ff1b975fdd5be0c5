package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	simplychat "github.com/simplyai/simplychat"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"gemini", "gemini"},
		{"OpenAI", "openai"},
		{"lmstudio", "lm_studio"},
		{"lm_studio", "lm_studio"},
		{" Ollama ", "ollama"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "bard"}); !errors.Is(err, simplychat.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
	if _, err := New(Config{}); !errors.Is(err, simplychat.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestCompatStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":2,\"total_tokens\":9}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewCompatClient(srv.URL+"/v1", "test-key")
	ch, err := c.streamChat(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, true)
	if err != nil {
		t.Fatalf("streamChat: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventContent || events[0].Content != "Hel" {
		t.Errorf("event 0 = %+v", events[0])
	}
	done := events[2]
	if done.Type != EventDone {
		t.Fatalf("terminal event = %+v", done)
	}
	if done.FullContent != "Hello" {
		t.Errorf("FullContent = %q", done.FullContent)
	}
	if done.Usage.InputTokens != 7 || done.Usage.OutputTokens != 2 || done.Usage.Estimated {
		t.Errorf("Usage = %+v", done.Usage)
	}
}

func TestCompatStreamingAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCompatClient(srv.URL+"/v1", "wrong")
	if _, err := c.streamChat(context.Background(), ChatRequest{Model: "m"}, true); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestCompatUsageEstimatedWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"words words words\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewCompatClient(srv.URL, "")
	ch, err := c.streamChat(context.Background(), ChatRequest{
		Model:    "local",
		Messages: []Message{{Role: "user", Content: "count some tokens"}},
	}, true)
	if err != nil {
		t.Fatalf("streamChat: %v", err)
	}

	events := collectEvents(t, ch)
	done := events[len(events)-1]
	if done.Type != EventDone {
		t.Fatalf("terminal event = %+v", done)
	}
	if !done.Usage.Estimated {
		t.Errorf("Usage.Estimated = false, want true when server omits usage")
	}
	if done.Usage.OutputTokens == 0 || done.Usage.InputTokens == 0 {
		t.Errorf("Usage = %+v, want non-zero estimates", done.Usage)
	}
}

func TestOllamaStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprintln(w, `{"message":{"content":"Hi "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"there"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":12,"eval_count":2}`)
	}))
	defer srv.Close()

	p := newOllama(Config{Provider: ProviderOllama, BaseURL: srv.URL + "/api/chat"})
	ch, err := p.StreamChat(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	events := collectEvents(t, ch)
	done := events[len(events)-1]
	if done.Type != EventDone || done.FullContent != "Hi there" {
		t.Fatalf("terminal event = %+v", done)
	}
	if done.Usage.InputTokens != 12 || done.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v", done.Usage)
	}
	if done.Usage.TotalTokens != 14 {
		t.Errorf("TotalTokens = %d, want 14", done.Usage.TotalTokens)
	}
}

func TestOllamaErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	p := newOllama(Config{Provider: ProviderOllama, BaseURL: srv.URL + "/api/chat"})
	ch, err := p.StreamChat(context.Background(), ChatRequest{Model: "nope"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
	if !strings.Contains(events[0].Content, "model not found") {
		t.Errorf("error content = %q", events[0].Content)
	}
}

func TestLocalVisionGate(t *testing.T) {
	req := ChatRequest{
		Model: "llava",
		Messages: []Message{{
			Role:        "user",
			Content:     "what is this",
			Attachments: []Attachment{{Name: "a.png", MIMEType: "image/png", Data: []byte{1}}},
		}},
	}

	p := newLMStudio(Config{Provider: ProviderLMStudio})
	if _, err := p.StreamChat(context.Background(), req); !errors.Is(err, simplychat.ErrVisionNotSupported) {
		t.Errorf("lm_studio err = %v, want ErrVisionNotSupported", err)
	}

	o := newOllama(Config{Provider: ProviderOllama})
	if _, err := o.StreamChat(context.Background(), req); !errors.Is(err, simplychat.ErrVisionNotSupported) {
		t.Errorf("ollama err = %v, want ErrVisionNotSupported", err)
	}
}

func TestBuildCompatMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be brief"},
		{
			Role:    "user",
			Content: "summarize",
			Attachments: []Attachment{
				{Name: "notes.txt", MIMEType: "text/plain", Text: "the notes"},
				{Name: "pic.png", MIMEType: "image/png", Data: []byte{0xFF}},
			},
		},
	}

	out := buildCompatMessages(messages, true)
	if len(out) != 2 {
		t.Fatalf("got %d messages", len(out))
	}
	if out[0].Content != "be brief" {
		t.Errorf("system content = %v", out[0].Content)
	}

	parts, ok := out[1].Content.([]compatPart)
	if !ok {
		t.Fatalf("user content = %T, want parts", out[1].Content)
	}
	if !strings.Contains(parts[0].Text, "[File: notes.txt]\nthe notes") {
		t.Errorf("document not inlined: %q", parts[0].Text)
	}
	if parts[1].Type != "image_url" || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image part = %+v", parts[1])
	}

	// Without vision the image is dropped and content stays a string
	out = buildCompatMessages(messages, false)
	if _, ok := out[1].Content.(string); !ok {
		t.Errorf("content = %T, want string without vision", out[1].Content)
	}
}

func TestInlineDocumentsSkipPDF(t *testing.T) {
	atts := []Attachment{
		{Name: "doc.pdf", MIMEType: "application/pdf", Text: "pdf text"},
		{Name: "data.csv", MIMEType: "text/csv", Text: "a,b"},
	}
	got := inlineDocuments("question", atts, true)
	if strings.Contains(got, "pdf text") {
		t.Errorf("pdf inlined despite skip: %q", got)
	}
	if !strings.Contains(got, "[File: data.csv]\na,b") {
		t.Errorf("csv not inlined: %q", got)
	}
}

func TestFinalizeUsageSanity(t *testing.T) {
	prompt := []Message{{Role: "user", Content: "short prompt"}}

	// Plausible counts pass through
	u := finalizeUsage(Usage{InputTokens: 10, OutputTokens: 5}, prompt, "hello world")
	if u.Estimated || u.OutputTokens != 5 || u.TotalTokens != 15 {
		t.Errorf("plausible usage mangled: %+v", u)
	}

	// Implausibly large output count is replaced with an estimate
	u = finalizeUsage(Usage{InputTokens: 10, OutputTokens: 100000}, prompt, "tiny")
	if !u.Estimated {
		t.Errorf("garbage usage not flagged: %+v", u)
	}
	if u.OutputTokens > 50 {
		t.Errorf("OutputTokens = %d, want tokenizer estimate", u.OutputTokens)
	}
}
