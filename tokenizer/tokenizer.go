// Package tokenizer estimates token counts for UI display and context
// budgeting. Counts are advisory, never authoritative for billing.
package tokenizer

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackCharsPerToken = 4

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

// load initialises the cl100k_base encoding once. On failure (the BPE data
// may be unavailable offline) all counts use the character estimate.
func load() *tiktoken.Tiktoken {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer: cl100k_base unavailable, using character estimate", "error", err)
			return
		}
		encoding = enc
	})
	return encoding
}

// Count returns the token count for text. Exact when the cl100k_base
// encoding is loaded, len/4 otherwise.
func Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / fallbackCharsPerToken
}

// Part is one element of a multimodal message content list. Only text parts
// contribute to the count.
type Part struct {
	Type string
	Text string
}

// Message is a conversation turn for counting purposes.
type Message struct {
	Content string
	Parts   []Part
}

// CountConversation sums token counts over the textual parts of a
// conversation.
func CountConversation(messages []Message) int {
	total := 0
	for _, m := range messages {
		if len(m.Parts) > 0 {
			for _, p := range m.Parts {
				if p.Type == "text" || p.Type == "" {
					total += Count(p.Text)
				}
			}
			continue
		}
		total += Count(m.Content)
	}
	return total
}
