package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// User represents a row in the users table.
type User struct {
	ID                  int64      `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	IsActive            bool       `json:"is_active"`
	IsAdmin             bool       `json:"is_admin"`
	TwoFAEnabled        bool       `json:"twofa_enabled"`
	TwoFASecret         string     `json:"-"`
	DateOfBirth         string     `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	FailedLoginAttempts int        `json:"-"`
	AccountLockedUntil  *time.Time `json:"-"`
	SessionToken        string     `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

// Chat represents a row in the chats table.
type Chat struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Name          string    `json:"name"`
	UserID        int64     `json:"user_id"`
	ModelProvider string    `json:"model_provider"`
	ModelName     string    `json:"model_name,omitempty"`
	IsDeleted     bool      `json:"is_deleted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message represents a row in the messages table.
type Message struct {
	ID               int64     `json:"id"`
	ChatID           int64     `json:"chat_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	DistilledContent string    `json:"distilled_content,omitempty"`
	TokensUsed       int       `json:"tokens_used"`
	ModelUsed        string    `json:"model_used,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	TokensEstimated  bool      `json:"tokens_estimated"`
	CreatedAt        time.Time `json:"created_at"`
}

// Attachment represents a row in the attachments table.
type Attachment struct {
	ID               int64     `json:"id"`
	MessageID        int64     `json:"message_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredFilename   string    `json:"stored_filename"`
	FilePath         string    `json:"file_path"`
	MIMEType         string    `json:"mime_type"`
	FileSize         int64     `json:"file_size"`
	FileType         string    `json:"file_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// Document states.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusReady      = "ready"
	DocStatusFailed     = "failed"
)

// Document represents a row in the documents table.
type Document struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	FilePath         string     `json:"file_path"`
	MIMEType         string     `json:"mime_type"`
	FileSize         int64      `json:"file_size"`
	FileType         string     `json:"file_type"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ChunkCount       int        `json:"chunk_count"`
	TotalTokens      int        `json:"total_tokens"`
	EmbeddingModel   string     `json:"embedding_model,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// DocumentChunk represents a row in the document_chunks table.
type DocumentChunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	PageNumber int    `json:"page_number,omitempty"`
	ChromaID   string `json:"chroma_id"`
}

// Setting represents a row in the admin_settings table.
type Setting struct {
	ID          int64  `json:"id"`
	Key         string `json:"setting_key"`
	Value       string `json:"setting_value"`
	Type        string `json:"setting_type"`
	Description string `json:"description,omitempty"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}
