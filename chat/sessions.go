package chat

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/store"
)

// Chat management: history, listing, rename, delete and export.

// MessageView is a message with its attachments, as returned to clients.
type MessageView struct {
	store.Message
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

func (s *Service) chatForUser(ctx context.Context, userID int64, sessionID string) (*store.Chat, error) {
	c, err := s.store.GetChatBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, simplychat.ErrNotFound
	}
	if c.UserID != userID {
		return nil, simplychat.ErrForbidden
	}
	return c, nil
}

// History returns a chat and its messages with attachments.
func (s *Service) History(ctx context.Context, userID int64, sessionID string) (*store.Chat, []MessageView, error) {
	c, err := s.chatForUser(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, c.ID)
	if err != nil {
		return nil, nil, err
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		atts, err := s.store.ListAttachments(ctx, m.ID)
		if err != nil {
			return nil, nil, err
		}
		views[i] = MessageView{Message: m, Attachments: atts}
	}
	return c, views, nil
}

// Sessions returns the user's chats, most recent first.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]store.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

// Rename updates a chat's display name.
func (s *Service) Rename(ctx context.Context, userID int64, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("chat: empty name")
	}
	c, err := s.chatForUser(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return s.store.RenameChat(ctx, c.ID, name)
}

// DeleteSession removes a chat, its messages and their attachment files.
func (s *Service) DeleteSession(ctx context.Context, userID int64, sessionID string) error {
	c, err := s.chatForUser(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	atts, err := s.store.ListChatAttachments(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, a := range atts {
		if err := os.Remove(a.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("removing attachment file", "path", a.FilePath, "error", err)
		}
	}
	return s.store.DeleteChat(ctx, c.ID)
}

// DeleteMessage removes one message and its attachment files, enforcing
// ownership through the containing chat.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID int64) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return simplychat.ErrNotFound
	}
	c, err := s.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if c == nil || c.UserID != userID {
		return simplychat.ErrForbidden
	}

	atts, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return err
	}
	for _, a := range atts {
		if err := os.Remove(a.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("removing attachment file", "path", a.FilePath, "error", err)
		}
	}
	return s.store.DeleteMessage(ctx, messageID)
}

// Export renders one chat as a plain-text transcript. Returns the suggested
// filename and the transcript.
func (s *Service) Export(ctx context.Context, userID int64, sessionID string) (string, string, error) {
	c, err := s.chatForUser(ctx, userID, sessionID)
	if err != nil {
		return "", "", err
	}
	msgs, err := s.store.ListMessages(ctx, c.ID)
	if err != nil {
		return "", "", err
	}
	return exportFilename(c), transcript(c, msgs), nil
}

// ExportAll renders every chat of the user into one zip archive.
func (s *Service) ExportAll(ctx context.Context, userID int64) ([]byte, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, c := range chats {
		msgs, err := s.store.ListMessages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(exportFilename(&c))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(transcript(&c, msgs))); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func transcript(c *store.Chat, msgs []store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat: %s\n", c.Name)
	fmt.Fprintf(&b, "Provider: %s", c.ModelProvider)
	if c.ModelName != "" {
		fmt.Fprintf(&b, " (%s)", c.ModelName)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Created: %s\n\n", c.CreatedAt.UTC().Format("2006-01-02 15:04:05"))

	for _, m := range msgs {
		content := m.Content
		if m.Role == "assistant" {
			content = stripThink(content)
		}
		fmt.Fprintf(&b, "[%s] %s\n\n", m.Role, content)
	}
	return b.String()
}

// exportFilename derives a filesystem-safe name from the chat name, suffixed
// with the session handle's first segment to keep archive entries unique.
func exportFilename(c *store.Chat) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, c.Name)
	if name == "" {
		name = "chat"
	}
	suffix := c.SessionID
	if i := strings.IndexByte(suffix, '-'); i > 0 {
		suffix = suffix[:i]
	}
	return name + "-" + suffix + ".txt"
}
