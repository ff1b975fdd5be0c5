package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/simplyai/simplychat/llm"
)

// Distillation compresses each exchange into short summaries stored next to
// the full text, so long conversations can be replayed to the model cheaply.

const (
	distillTimeout      = 60 * time.Second
	distillUserLimit    = 2000
	distillBotLimit     = 4000
	fallbackUserSummary = 300
	fallbackBotSummary  = 150
)

const distillPrompt = `Summarize the following conversation exchange. Keep key facts, names, numbers and decisions. Reply with exactly two lines:
USER: <one sentence summary of the user's message>
ASSISTANT: <one or two sentence summary of the assistant's reply>

USER: %s

ASSISTANT: %s`

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripThink(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// distill runs after the turn completes, on its own deadline so a hung
// summarization call cannot leak a goroutine.
func (s *Service) distill(provider llm.Provider, cfg llm.Config, userMsgID, botMsgID int64, userText, botText string) {
	ctx, cancel := context.WithTimeout(context.Background(), distillTimeout)
	defer cancel()

	userText = truncateRunes(stripThink(userText), distillUserLimit)
	botText = truncateRunes(stripThink(botText), distillBotLimit)

	reply, _, err := llm.Respond(ctx, provider, llm.ChatRequest{
		Model: cfg.Model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(distillPrompt, userText, botText)},
		},
	})
	if err != nil {
		s.log.Warn("distillation failed", "message_id", userMsgID, "error", err)
		return
	}

	userSummary, botSummary := parseDistilled(reply, userText, botText)
	if err := s.store.SetDistilledContent(ctx, userMsgID, userSummary); err != nil {
		s.log.Warn("saving distilled content", "message_id", userMsgID, "error", err)
	}
	if err := s.store.SetDistilledContent(ctx, botMsgID, botSummary); err != nil {
		s.log.Warn("saving distilled content", "message_id", botMsgID, "error", err)
	}
}

// parseDistilled extracts the USER:/ASSISTANT: lines from the model's reply.
// When the reply does not follow the format, it falls back to paragraph
// halves, then to truncating the originals.
func parseDistilled(reply, userText, botText string) (string, string) {
	var user, bot string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "USER:"):
			user = strings.TrimSpace(line[len("USER:"):])
		case strings.HasPrefix(line, "ASSISTANT:"):
			bot = strings.TrimSpace(line[len("ASSISTANT:"):])
		}
	}
	if user != "" && bot != "" {
		return user, bot
	}

	if parts := strings.SplitN(strings.TrimSpace(reply), "\n\n", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}

	return truncateRunes(userText, fallbackUserSummary), truncateRunes(botText, fallbackBotSummary)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
