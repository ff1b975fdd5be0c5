// Package chat runs the per-turn conversation pipeline: resolve the chat,
// apply redaction and age-based safety prompts, gather document context,
// stream the model's reply and persist both sides of the exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/extract"
	"github.com/simplyai/simplychat/llm"
	"github.com/simplyai/simplychat/rag"
	"github.com/simplyai/simplychat/redact"
	"github.com/simplyai/simplychat/settings"
	"github.com/simplyai/simplychat/store"
	"github.com/simplyai/simplychat/tokenizer"
)

const ragInstruction = "Use the following document excerpts to answer the user's question. " +
	"Cite the source document when you draw on an excerpt. " +
	"If the excerpts are not relevant, answer from your own knowledge.\n\n"

// Service orchestrates chat turns.
type Service struct {
	store    *store.Store
	rag      *rag.Service
	settings *settings.Service
	provider func(llm.Config) (llm.Provider, error)
	log      *slog.Logger
}

// New creates the chat service.
func New(st *store.Store, ragSvc *rag.Service, set *settings.Service) *Service {
	return &Service{
		store:    st,
		rag:      ragSvc,
		settings: set,
		provider: llm.New,
		log:      slog.With("component", "chat"),
	}
}

// AttachmentInput describes a file already stored by the attachment upload
// endpoint and referenced by a chat turn.
type AttachmentInput struct {
	OriginalFilename string `json:"original_filename"`
	StoredFilename   string `json:"stored_filename"`
	FilePath         string `json:"file_path"`
	MIMEType         string `json:"mime_type"`
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"` // "image" or "document"
}

// Request is one chat turn.
type Request struct {
	UserID             int64
	SessionID          string
	Message            string
	Provider           string
	ModelName          string
	LocalVisionEnabled bool
	UseRAG             bool
	Attachments        []AttachmentInput
}

// Stream runs a chat turn and returns the SSE frame stream. Configuration
// problems (unknown provider, missing key, foreign chat) surface as a
// synchronous error; everything later arrives as frames. The channel closes
// after the terminal done or error frame, or when ctx is cancelled.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan Frame, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return nil, simplychat.ErrEmptyMessage
	}

	name := llm.Normalize(req.Provider)
	cfg, err := s.providerConfig(ctx, name, req.ModelName, req.LocalVisionEnabled)
	if err != nil {
		return nil, err
	}
	provider, err := s.provider(cfg)
	if err != nil {
		return nil, err
	}

	chat, err := s.resolveChat(ctx, req, name)
	if err != nil {
		return nil, err
	}

	ch := make(chan Frame)
	go func() {
		defer close(ch)
		s.run(ctx, ch, provider, cfg, chat, req)
	}()
	return ch, nil
}

func (s *Service) run(ctx context.Context, ch chan<- Frame, provider llm.Provider, cfg llm.Config, chat *store.Chat, req Request) {
	emit := func(f Frame) bool {
		select {
		case ch <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(SessionFrame{Type: "session_id", SessionID: chat.SessionID}) {
		return
	}

	content := req.Message
	if s.settings.SensitiveFilterEnabled(ctx) {
		content = redact.Filter(content)
	}

	history, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		s.log.Error("loading chat history", "chat_id", chat.ID, "error", err)
		emit(ErrorFrame{Type: "error", Content: "failed to load chat history"})
		return
	}

	// Retrieval failures degrade to a plain chat turn.
	var ragContext string
	if s.useRAG(ctx, req, cfg.Provider) {
		hits, err := s.rag.Retrieve(ctx, req.UserID, content)
		if err != nil {
			s.log.Warn("document retrieval failed", "user_id", req.UserID, "error", err)
		} else if len(hits) > 0 {
			ragContext = ragInstruction + rag.FormatContext(hits)
		}
	}

	atts := s.loadAttachments(ctx, req.Attachments)
	prompt := s.buildPrompt(ctx, req.UserID, ragContext, history, content, atts)

	inputTokens := promptTokens(prompt)
	userMsgID, err := s.store.InsertMessage(ctx, store.Message{
		ChatID:          chat.ID,
		Role:            "user",
		Content:         content,
		TokensUsed:      inputTokens,
		InputTokens:     inputTokens,
		TokensEstimated: true,
	})
	if err != nil {
		s.log.Error("saving user message", "chat_id", chat.ID, "error", err)
		emit(ErrorFrame{Type: "error", Content: "failed to save message"})
		return
	}
	s.saveAttachmentRows(ctx, userMsgID, req.Attachments)

	if !emit(UserMessageFrame{
		Type:            "user_message_id",
		MessageID:       userMsgID,
		InputTokens:     inputTokens,
		TokensEstimated: true,
	}) {
		return
	}

	events, err := provider.StreamChat(ctx, llm.ChatRequest{Model: cfg.Model, Messages: prompt})
	if err != nil {
		emit(ErrorFrame{Type: "error", Content: err.Error()})
		return
	}

	for ev := range events {
		switch ev.Type {
		case llm.EventContent:
			if !emit(ContentFrame{Type: "content", Content: ev.Content}) {
				return
			}
		case llm.EventError:
			emit(ErrorFrame{Type: "error", Content: ev.Content})
			return
		case llm.EventDone:
			// A disconnected client gets nothing persisted.
			if ctx.Err() != nil {
				return
			}
			botMsgID, err := s.store.InsertMessage(ctx, store.Message{
				ChatID:          chat.ID,
				Role:            "assistant",
				Content:         ev.FullContent,
				TokensUsed:      ev.Usage.TotalTokens,
				ModelUsed:       cfg.Model,
				InputTokens:     ev.Usage.InputTokens,
				OutputTokens:    ev.Usage.OutputTokens,
				TokensEstimated: ev.Usage.Estimated,
			})
			if err != nil {
				s.log.Error("saving assistant message", "chat_id", chat.ID, "error", err)
				emit(ErrorFrame{Type: "error", Content: "failed to save response"})
				return
			}
			if err := s.store.TouchChat(ctx, chat.ID); err != nil {
				s.log.Warn("touching chat", "chat_id", chat.ID, "error", err)
			}
			if !emit(DoneFrame{Type: "done", FullContent: ev.FullContent, Usage: ev.Usage}) {
				return
			}
			emit(BotMessageFrame{
				Type:            "bot_message_id",
				MessageID:       botMsgID,
				OutputTokens:    ev.Usage.OutputTokens,
				TokensEstimated: ev.Usage.Estimated,
			})

			if s.settings.DistilledContextEnabled(ctx) {
				go s.distill(provider, cfg, userMsgID, botMsgID, content, ev.FullContent)
			}
			return
		}
	}
}

// providerConfig resolves the model, API key, endpoint and vision capability
// for a provider from the admin settings.
func (s *Service) providerConfig(ctx context.Context, name, modelOverride string, visionOptIn bool) (llm.Config, error) {
	if !supportedProvider(name) {
		return llm.Config{}, fmt.Errorf("%w: %q", simplychat.ErrUnknownProvider, name)
	}

	cfg := llm.Config{Provider: name, Model: modelOverride}
	if cfg.Model == "" {
		cfg.Model = s.settings.SystemModelID(ctx, name)
	}

	if llm.IsLocal(name) {
		cfg.BaseURL = s.settings.LocalModelURL(ctx, name)
		// Vision is a per-request caller assertion; the admin capability
		// flags advertise the loaded model but never enable it on their own.
		cfg.VisionEnabled = visionOptIn
		return cfg, nil
	}

	cfg.APIKey = s.settings.Secret(ctx, name)
	if cfg.APIKey == "" {
		return llm.Config{}, fmt.Errorf("%w: no API key configured for %s",
			simplychat.ErrProviderUnavailable, name)
	}
	return cfg, nil
}

func supportedProvider(name string) bool {
	switch name {
	case llm.ProviderGemini, llm.ProviderOpenAI, llm.ProviderAnthropic,
		llm.ProviderXAI, llm.ProviderLMStudio, llm.ProviderOllama:
		return true
	}
	return false
}

// resolveChat returns the chat for the session handle, creating one when the
// handle is empty or unknown.
func (s *Service) resolveChat(ctx context.Context, req Request, provider string) (*store.Chat, error) {
	if req.SessionID != "" {
		c, err := s.store.GetChatBySessionID(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			if c.UserID != req.UserID {
				return nil, simplychat.ErrForbidden
			}
			return c, nil
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, err := s.store.CreateChat(ctx, store.Chat{
		SessionID:     sessionID,
		Name:          chatName(req.Message),
		UserID:        req.UserID,
		ModelProvider: provider,
		ModelName:     req.ModelName,
	}); err != nil {
		return nil, err
	}
	return s.store.GetChatBySessionID(ctx, sessionID)
}

// chatName derives the display name from the first five words of the opening
// message.
func chatName(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return "New Chat"
	}
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

func (s *Service) useRAG(ctx context.Context, req Request, provider string) bool {
	if !req.UseRAG || !s.settings.RAGEnabled(ctx) {
		return false
	}
	// anthropic and xai have no companion embedding API here; their turns
	// run without document context.
	if provider == llm.ProviderAnthropic || provider == llm.ProviderXAI {
		return false
	}
	return s.rag.HasReadyDocuments(ctx, req.UserID)
}

// buildPrompt assembles the model conversation: safety prompt first, then
// document context, then history (distilled when enabled), then the new turn.
func (s *Service) buildPrompt(ctx context.Context, userID int64, ragContext string, history []store.Message, content string, atts []llm.Attachment) []llm.Message {
	var prompt []llm.Message
	if sp := s.safetyPrompt(ctx, userID); sp != "" {
		prompt = append(prompt, llm.Message{Role: "system", Content: sp})
	}
	if ragContext != "" {
		prompt = append(prompt, llm.Message{Role: "system", Content: ragContext})
	}

	distilled := s.settings.DistilledContextEnabled(ctx)
	for _, m := range history {
		c := m.Content
		if distilled && m.DistilledContent != "" {
			c = m.DistilledContent
		}
		prompt = append(prompt, llm.Message{Role: m.Role, Content: c})
	}

	return append(prompt, llm.Message{Role: "user", Content: content, Attachments: atts})
}

func (s *Service) safetyPrompt(ctx context.Context, userID int64) string {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil || u == nil {
		return ""
	}
	return s.settings.AgeBasedSystemPrompt(ctx, ageGroup(u.DateOfBirth, time.Now()))
}

// ageGroup classifies a YYYY-MM-DD date of birth: child under 12, teen under
// 18, empty otherwise or when the date does not parse.
func ageGroup(dob string, now time.Time) string {
	born, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return ""
	}
	age := now.Year() - born.Year()
	if now.YearDay() < born.YearDay() {
		age--
	}
	switch {
	case age < 0:
		return ""
	case age < 12:
		return "child"
	case age < 18:
		return "teen"
	}
	return ""
}

// loadAttachments reads stored attachment files and extracts document text so
// providers can inline it. Unreadable attachments are skipped with a warning.
func (s *Service) loadAttachments(ctx context.Context, inputs []AttachmentInput) []llm.Attachment {
	var atts []llm.Attachment
	for _, in := range inputs {
		data, err := os.ReadFile(in.FilePath)
		if err != nil {
			s.log.Warn("reading attachment", "path", in.FilePath, "error", err)
			continue
		}
		a := llm.Attachment{Name: in.OriginalFilename, MIMEType: in.MIMEType, Data: data}
		if !a.IsImage() {
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.OriginalFilename), "."))
			if extract.Supported(ext) {
				if res, err := extract.Extract(ctx, in.FilePath, ext); err == nil {
					a.Text = res.Text
				} else {
					s.log.Warn("extracting attachment text", "name", in.OriginalFilename, "error", err)
				}
			}
		}
		atts = append(atts, a)
	}
	return atts
}

func (s *Service) saveAttachmentRows(ctx context.Context, messageID int64, inputs []AttachmentInput) {
	for _, in := range inputs {
		if _, err := s.store.InsertAttachment(ctx, store.Attachment{
			MessageID:        messageID,
			OriginalFilename: in.OriginalFilename,
			StoredFilename:   in.StoredFilename,
			FilePath:         in.FilePath,
			MIMEType:         in.MIMEType,
			FileSize:         in.FileSize,
			FileType:         in.FileType,
		}); err != nil {
			s.log.Warn("saving attachment row", "message_id", messageID, "error", err)
		}
	}
}

func promptTokens(prompt []llm.Message) int {
	msgs := make([]tokenizer.Message, len(prompt))
	for i, m := range prompt {
		msgs[i] = tokenizer.Message{Content: m.Content}
	}
	return tokenizer.CountConversation(msgs)
}
