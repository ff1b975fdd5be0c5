package chat

import "github.com/simplyai/simplychat/llm"

// Frame is one server-sent event payload. Each concrete frame carries its
// "type" discriminator in JSON form; the transport layer marshals frames
// verbatim into SSE data lines.
type Frame interface{ frame() }

// SessionFrame announces the chat's session handle. Always first.
type SessionFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// UserMessageFrame carries the persisted user message ID and its estimated
// token count.
type UserMessageFrame struct {
	Type            string `json:"type"`
	MessageID       int64  `json:"message_id"`
	InputTokens     int    `json:"input_tokens"`
	TokensEstimated bool   `json:"tokens_estimated"`
}

// ContentFrame is one streamed text delta.
type ContentFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DoneFrame closes a successful turn with the full response and usage.
type DoneFrame struct {
	Type        string    `json:"type"`
	FullContent string    `json:"full_content"`
	Usage       llm.Usage `json:"usage"`
}

// BotMessageFrame carries the persisted assistant message ID and its token
// accounting. Follows done.
type BotMessageFrame struct {
	Type            string `json:"type"`
	MessageID       int64  `json:"message_id"`
	OutputTokens    int    `json:"output_tokens"`
	TokensEstimated bool   `json:"tokens_estimated"`
}

// ErrorFrame terminates a failed turn.
type ErrorFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (SessionFrame) frame()     {}
func (UserMessageFrame) frame() {}
func (ContentFrame) frame()     {}
func (DoneFrame) frame()        {}
func (BotMessageFrame) frame()  {}
func (ErrorFrame) frame()       {}
