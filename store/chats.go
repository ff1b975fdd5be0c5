package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const chatColumns = `id, session_id, name, user_id, model_provider, model_name,
	is_deleted, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var modelName sql.NullString
	err := row.Scan(&c.ID, &c.SessionID, &c.Name, &c.UserID, &c.ModelProvider,
		&modelName, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ModelName = scanNullStr(modelName)
	return &c, nil
}

// CreateChat inserts a new chat and returns its ID.
func (s *Store) CreateChat(ctx context.Context, c Chat) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (session_id, name, user_id, model_provider, model_name)
		VALUES (?, ?, ?, ?, ?)
	`, c.SessionID, c.Name, c.UserID, c.ModelProvider, nullStr(c.ModelName))
	if err != nil {
		return 0, fmt.Errorf("creating chat: %w", err)
	}
	return res.LastInsertId()
}

// GetChat returns a chat by ID, or nil if not found.
func (s *Store) GetChat(ctx context.Context, id int64) (*Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// GetChatBySessionID returns a chat by its session handle, or nil if not found.
func (s *Store) GetChatBySessionID(ctx context.Context, sessionID string) (*Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE session_id = ?", sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListChats returns all non-deleted chats for a user, most recent first.
func (s *Store) ListChats(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE user_id = ? AND is_deleted = 0 ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// RenameChat updates the chat display name.
func (s *Store) RenameChat(ctx context.Context, chatID int64, name string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chats SET name = ? WHERE id = ?", name, chatID)
	return err
}

// TouchChat bumps the chat's updated_at timestamp.
func (s *Store) TouchChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE chats SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", chatID)
	return err
}

// DeleteChat removes the chat; messages and attachments cascade.
func (s *Store) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	return err
}

// --- Messages ---

const messageColumns = `id, chat_id, role, content, distilled_content, tokens_used,
	model_used, input_tokens, output_tokens, tokens_estimated, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var distilled, modelUsed sql.NullString
	err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &distilled, &m.TokensUsed,
		&modelUsed, &m.InputTokens, &m.OutputTokens, &m.TokensEstimated, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.DistilledContent = scanNullStr(distilled)
	m.ModelUsed = scanNullStr(modelUsed)
	return &m, nil
}

// InsertMessage inserts a message and returns its ID.
func (s *Store) InsertMessage(ctx context.Context, m Message) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, role, content, tokens_used, model_used,
			input_tokens, output_tokens, tokens_estimated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ChatID, m.Role, m.Content, m.TokensUsed, nullStr(m.ModelUsed),
		m.InputTokens, m.OutputTokens, m.TokensEstimated)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

// GetMessage returns a message by ID, or nil if not found.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMessages returns all messages for a chat in creation order.
func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY created_at, id",
		chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetDistilledContent writes a message's compressed summary.
func (s *Store) SetDistilledContent(ctx context.Context, messageID int64, distilled string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET distilled_content = ? WHERE id = ?", distilled, messageID)
	return err
}

// DeleteMessage removes a message; attachments cascade.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	return err
}

// --- Attachments ---

// InsertAttachment inserts an attachment row and returns its ID.
func (s *Store) InsertAttachment(ctx context.Context, a Attachment) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (message_id, original_filename, stored_filename,
			file_path, mime_type, file_size, file_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.MessageID, a.OriginalFilename, a.StoredFilename, a.FilePath,
		a.MIMEType, a.FileSize, a.FileType)
	if err != nil {
		return 0, fmt.Errorf("inserting attachment: %w", err)
	}
	return res.LastInsertId()
}

// ListAttachments returns all attachments for a message.
func (s *Store) ListAttachments(ctx context.Context, messageID int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, original_filename, stored_filename, file_path,
			mime_type, file_size, file_type, created_at
		FROM attachments WHERE message_id = ? ORDER BY id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.OriginalFilename, &a.StoredFilename,
			&a.FilePath, &a.MIMEType, &a.FileSize, &a.FileType, &a.CreatedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// ListChatAttachments returns all attachments across a chat's messages.
func (s *Store) ListChatAttachments(ctx context.Context, chatID int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.original_filename, a.stored_filename, a.file_path,
			a.mime_type, a.file_size, a.file_type, a.created_at
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE m.chat_id = ? ORDER BY a.id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.OriginalFilename, &a.StoredFilename,
			&a.FilePath, &a.MIMEType, &a.FileSize, &a.FileType, &a.CreatedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
