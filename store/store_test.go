//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("creating user %q: %v", username, err)
	}
	return id
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "bcrypt-hash",
		IsActive:     true,
		DateOfBirth:  "1990-04-02",
	})
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero user id")
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("getting user: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.Username != "alice" {
		t.Errorf("username: got %q", u.Username)
	}
	if u.DateOfBirth != "1990-04-02" {
		t.Errorf("date_of_birth: got %q", u.DateOfBirth)
	}
	if !u.IsActive || u.IsAdmin {
		t.Errorf("flags: active=%v admin=%v", u.IsActive, u.IsAdmin)
	}
	if u.SessionToken != "" {
		t.Errorf("expected empty session token, got %q", u.SessionToken)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetUser(context.Background(), 9999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil for missing user, got %+v", u)
	}
}

func TestGetUserByUsernameAndEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testUser(t, s, "bob")

	u, err := s.GetUserByUsername(ctx, "bob")
	if err != nil || u == nil {
		t.Fatalf("by username: user=%v err=%v", u, err)
	}

	u, err = s.GetUserByEmail(ctx, "bob@example.com")
	if err != nil || u == nil {
		t.Fatalf("by email: user=%v err=%v", u, err)
	}
	if u.Username != "bob" {
		t.Errorf("username: got %q", u.Username)
	}

	u, err = s.GetUserByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("missing username: %v", err)
	}
	if u != nil {
		t.Fatal("expected nil for unknown username")
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testUser(t, s, "carol")

	_, err := s.CreateUser(ctx, User{
		Username: "carol", Email: "other@example.com", PasswordHash: "h", IsActive: true,
	})
	if err == nil {
		t.Fatal("expected unique constraint error for duplicate username")
	}
}

func TestSessionTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := testUser(t, s, "dave")

	if err := s.SetSessionToken(ctx, id, "token-1"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	u, _ := s.GetUser(ctx, id)
	if u.SessionToken != "token-1" {
		t.Errorf("token: got %q", u.SessionToken)
	}

	// Empty token clears it.
	if err := s.SetSessionToken(ctx, id, ""); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	u, _ = s.GetUser(ctx, id)
	if u.SessionToken != "" {
		t.Errorf("expected cleared token, got %q", u.SessionToken)
	}
}

func TestFailedLoginLockout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := testUser(t, s, "eve")

	lockUntil := time.Now().Add(15 * time.Minute).UTC()
	for i := 0; i < 3; i++ {
		if err := s.RecordFailedLogin(ctx, id, 3, lockUntil); err != nil {
			t.Fatalf("failed login %d: %v", i+1, err)
		}
	}

	u, _ := s.GetUser(ctx, id)
	if u.FailedLoginAttempts != 3 {
		t.Errorf("attempts: got %d, want 3", u.FailedLoginAttempts)
	}
	if u.AccountLockedUntil == nil {
		t.Fatal("expected account locked at threshold")
	}

	// A successful login resets everything.
	if err := s.RecordLogin(ctx, id); err != nil {
		t.Fatalf("record login: %v", err)
	}
	u, _ = s.GetUser(ctx, id)
	if u.FailedLoginAttempts != 0 {
		t.Errorf("attempts after login: got %d", u.FailedLoginAttempts)
	}
	if u.AccountLockedUntil != nil {
		t.Error("expected lock cleared after login")
	}
	if u.LastLogin == nil {
		t.Error("expected last_login stamped")
	}
}

func TestFailedLoginBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := testUser(t, s, "frank")

	if err := s.RecordFailedLogin(ctx, id, 5, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("failed login: %v", err)
	}
	u, _ := s.GetUser(ctx, id)
	if u.FailedLoginAttempts != 1 {
		t.Errorf("attempts: got %d, want 1", u.FailedLoginAttempts)
	}
	if u.AccountLockedUntil != nil {
		t.Error("account should not be locked below threshold")
	}
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "grace")

	id, err := s.CreateChat(ctx, Chat{
		SessionID:     "sess-1",
		Name:          "First chat",
		UserID:        userID,
		ModelProvider: "ollama",
		ModelName:     "llama3",
	})
	if err != nil {
		t.Fatalf("creating chat: %v", err)
	}

	c, err := s.GetChat(ctx, id)
	if err != nil || c == nil {
		t.Fatalf("get chat: chat=%v err=%v", c, err)
	}
	if c.Name != "First chat" || c.ModelName != "llama3" {
		t.Errorf("chat fields: %+v", c)
	}

	c, err = s.GetChatBySessionID(ctx, "sess-1")
	if err != nil || c == nil {
		t.Fatalf("get by session: chat=%v err=%v", c, err)
	}
	if c.ID != id {
		t.Errorf("id: got %d, want %d", c.ID, id)
	}

	if err := s.RenameChat(ctx, id, "Renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	c, _ = s.GetChat(ctx, id)
	if c.Name != "Renamed" {
		t.Errorf("name after rename: got %q", c.Name)
	}

	if err := s.TouchChat(ctx, id); err != nil {
		t.Fatalf("touch: %v", err)
	}
}

func TestGetChatBySessionIDNotFound(t *testing.T) {
	s := newTestStore(t)

	c, err := s.GetChatBySessionID(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil, got %+v", c)
	}
}

func TestListChatsScopedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u1 := testUser(t, s, "heidi")
	u2 := testUser(t, s, "ivan")

	for i, sess := range []string{"a", "b", "c"} {
		if _, err := s.CreateChat(ctx, Chat{
			SessionID: sess, Name: "chat", UserID: u1, ModelProvider: "ollama",
		}); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}
	s.CreateChat(ctx, Chat{SessionID: "d", Name: "other", UserID: u2, ModelProvider: "ollama"})

	chats, err := s.ListChats(ctx, u1)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("expected 3 chats for user 1, got %d", len(chats))
	}
	for _, c := range chats {
		if c.UserID != u1 {
			t.Errorf("chat %d belongs to user %d", c.ID, c.UserID)
		}
	}
}

func TestDeleteChatCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "judy")

	chatID, _ := s.CreateChat(ctx, Chat{SessionID: "s", Name: "n", UserID: userID, ModelProvider: "ollama"})
	msgID, err := s.InsertMessage(ctx, Message{ChatID: chatID, Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := s.InsertAttachment(ctx, Attachment{
		MessageID: msgID, OriginalFilename: "a.png", StoredFilename: "x.png",
		FilePath: "/tmp/x.png", MIMEType: "image/png", FileSize: 10, FileType: "image",
	}); err != nil {
		t.Fatalf("insert attachment: %v", err)
	}

	if err := s.DeleteChat(ctx, chatID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	m, err := s.GetMessage(ctx, msgID)
	if err != nil {
		t.Fatalf("get message after cascade: %v", err)
	}
	if m != nil {
		t.Fatal("expected message removed by cascade")
	}
	atts, err := s.ListAttachments(ctx, msgID)
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	if len(atts) != 0 {
		t.Fatalf("expected 0 attachments after cascade, got %d", len(atts))
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestMessagesOrderAndDistillation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "kate")
	chatID, _ := s.CreateChat(ctx, Chat{SessionID: "s", Name: "n", UserID: userID, ModelProvider: "ollama"})

	userMsg, err := s.InsertMessage(ctx, Message{
		ChatID: chatID, Role: "user", Content: "what is Go?",
		TokensUsed: 4, InputTokens: 4, TokensEstimated: true,
	})
	if err != nil {
		t.Fatalf("insert user message: %v", err)
	}
	botMsg, err := s.InsertMessage(ctx, Message{
		ChatID: chatID, Role: "assistant", Content: "A programming language.",
		TokensUsed: 10, ModelUsed: "llama3", InputTokens: 4, OutputTokens: 6,
	})
	if err != nil {
		t.Fatalf("insert assistant message: %v", err)
	}

	msgs, err := s.ListMessages(ctx, chatID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != userMsg || msgs[1].ID != botMsg {
		t.Errorf("order: got %d,%d want %d,%d", msgs[0].ID, msgs[1].ID, userMsg, botMsg)
	}
	if !msgs[0].TokensEstimated {
		t.Error("user message should carry estimated flag")
	}
	if msgs[1].ModelUsed != "llama3" {
		t.Errorf("model_used: got %q", msgs[1].ModelUsed)
	}

	if err := s.SetDistilledContent(ctx, userMsg, "asked about Go"); err != nil {
		t.Fatalf("set distilled: %v", err)
	}
	m, _ := s.GetMessage(ctx, userMsg)
	if m.DistilledContent != "asked about Go" {
		t.Errorf("distilled: got %q", m.DistilledContent)
	}
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "leo")
	chatID, _ := s.CreateChat(ctx, Chat{SessionID: "s", Name: "n", UserID: userID, ModelProvider: "ollama"})
	msgID, _ := s.InsertMessage(ctx, Message{ChatID: chatID, Role: "user", Content: "bye"})

	if err := s.DeleteMessage(ctx, msgID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m, _ := s.GetMessage(ctx, msgID)
	if m != nil {
		t.Fatal("expected message deleted")
	}
}

func TestListChatAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "mallory")
	chatID, _ := s.CreateChat(ctx, Chat{SessionID: "s", Name: "n", UserID: userID, ModelProvider: "ollama"})

	m1, _ := s.InsertMessage(ctx, Message{ChatID: chatID, Role: "user", Content: "one"})
	m2, _ := s.InsertMessage(ctx, Message{ChatID: chatID, Role: "user", Content: "two"})
	for _, msgID := range []int64{m1, m2} {
		if _, err := s.InsertAttachment(ctx, Attachment{
			MessageID: msgID, OriginalFilename: "f.pdf", StoredFilename: "u.pdf",
			FilePath: "/tmp/u.pdf", MIMEType: "application/pdf", FileSize: 5, FileType: "document",
		}); err != nil {
			t.Fatalf("insert attachment: %v", err)
		}
	}

	atts, err := s.ListChatAttachments(ctx, chatID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(atts) != 2 {
		t.Fatalf("expected 2 attachments across chat, got %d", len(atts))
	}
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func sampleDocument(userID int64) Document {
	return Document{
		UserID:           userID,
		OriginalFilename: "report.pdf",
		StoredFilename:   "abc.pdf",
		FilePath:         "/tmp/abc.pdf",
		MIMEType:         "application/pdf",
		FileSize:         1024,
		FileType:         "pdf",
	}
}

func TestDocumentStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "nina")

	id, err := s.CreateDocument(ctx, sampleDocument(userID))
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}

	d, _ := s.GetDocument(ctx, id)
	if d.Status != DocStatusPending {
		t.Errorf("initial status: got %q", d.Status)
	}

	if err := s.MarkDocumentProcessing(ctx, id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	d, _ = s.GetDocument(ctx, id)
	if d.Status != DocStatusProcessing {
		t.Errorf("status: got %q", d.Status)
	}

	processedAt := time.Now().UTC()
	if err := s.MarkDocumentReady(ctx, id, 7, 420, "feature-hash-384", processedAt); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	d, _ = s.GetDocument(ctx, id)
	if d.Status != DocStatusReady {
		t.Errorf("status: got %q", d.Status)
	}
	if d.ChunkCount != 7 || d.TotalTokens != 420 {
		t.Errorf("counts: chunks=%d tokens=%d", d.ChunkCount, d.TotalTokens)
	}
	if d.EmbeddingModel != "feature-hash-384" {
		t.Errorf("embedding model: got %q", d.EmbeddingModel)
	}
	if d.ProcessedAt == nil {
		t.Error("expected processed_at set")
	}

	if err := s.MarkDocumentFailed(ctx, id, "extraction failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	d, _ = s.GetDocument(ctx, id)
	if d.Status != DocStatusFailed || d.ErrorMessage != "extraction failed" {
		t.Errorf("failed state: status=%q err=%q", d.Status, d.ErrorMessage)
	}
}

func TestCountDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "oscar")

	id1, _ := s.CreateDocument(ctx, sampleDocument(userID))
	s.CreateDocument(ctx, sampleDocument(userID))
	s.MarkDocumentReady(ctx, id1, 1, 10, "m", time.Now())

	total, err := s.CountDocuments(ctx, userID, "")
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if total != 2 {
		t.Errorf("total: got %d, want 2", total)
	}

	ready, err := s.CountDocuments(ctx, userID, DocStatusReady)
	if err != nil {
		t.Fatalf("count ready: %v", err)
	}
	if ready != 1 {
		t.Errorf("ready: got %d, want 1", ready)
	}
}

func TestDocumentChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "peggy")
	docID, _ := s.CreateDocument(ctx, sampleDocument(userID))

	chunks := []DocumentChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "first", TokenCount: 1, StartChar: 0, EndChar: 5, ChromaID: "c-0"},
		{DocumentID: docID, ChunkIndex: 1, Content: "second", TokenCount: 1, StartChar: 5, EndChar: 11, PageNumber: 2, ChromaID: "c-1"},
	}
	if err := s.InsertDocumentChunks(ctx, chunks); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	got, err := s.ListDocumentChunks(ctx, docID)
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Content != "first" || got[1].PageNumber != 2 {
		t.Errorf("chunk fields: %+v", got)
	}

	n, err := s.CountDocumentChunks(ctx, docID)
	if err != nil || n != 2 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}

	if err := s.DeleteDocumentChunks(ctx, docID); err != nil {
		t.Fatalf("delete chunks: %v", err)
	}
	n, _ = s.CountDocumentChunks(ctx, docID)
	if n != 0 {
		t.Fatalf("expected 0 chunks after delete, got %d", n)
	}
}

func TestInsertDocumentChunksEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertDocumentChunks(context.Background(), nil); err != nil {
		t.Fatalf("empty insert should be a no-op: %v", err)
	}
}

func TestDeleteDocumentCascadesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "quentin")
	docID, _ := s.CreateDocument(ctx, sampleDocument(userID))
	s.InsertDocumentChunks(ctx, []DocumentChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "x", TokenCount: 1, ChromaID: "c"},
	})

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	d, _ := s.GetDocument(ctx, docID)
	if d != nil {
		t.Fatal("expected document gone")
	}
	n, _ := s.CountDocumentChunks(ctx, docID)
	if n != 0 {
		t.Fatalf("expected chunks cascaded, got %d", n)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := testUser(t, s, "rachel")
	chatID, _ := s.CreateChat(ctx, Chat{SessionID: "s", Name: "n", UserID: userID, ModelProvider: "ollama"})
	msgID, _ := s.InsertMessage(ctx, Message{ChatID: chatID, Role: "user", Content: "hi"})
	docID, _ := s.CreateDocument(ctx, sampleDocument(userID))

	if err := s.DeleteUser(ctx, userID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if c, _ := s.GetChat(ctx, chatID); c != nil {
		t.Error("expected chat cascaded")
	}
	if m, _ := s.GetMessage(ctx, msgID); m != nil {
		t.Error("expected message cascaded")
	}
	if d, _ := s.GetDocument(ctx, docID); d != nil {
		t.Error("expected document cascaded")
	}
}

// ---------------------------------------------------------------------------
// Settings rows
// ---------------------------------------------------------------------------

func TestSettingUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetSetting(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unset key, got %+v", got)
	}

	if err := s.SetSetting(ctx, Setting{
		Key: "rag_top_k", Value: "5", Type: "integer", Description: "chunks per query",
	}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.GetSetting(ctx, "rag_top_k")
	if err != nil || got == nil {
		t.Fatalf("get: setting=%v err=%v", got, err)
	}
	if got.Value != "5" || got.Type != "integer" {
		t.Errorf("setting: %+v", got)
	}

	// Upsert replaces the value.
	if err := s.SetSetting(ctx, Setting{Key: "rag_top_k", Value: "8", Type: "integer"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.GetSetting(ctx, "rag_top_k")
	if got.Value != "8" {
		t.Errorf("value after upsert: got %q", got.Value)
	}

	all, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 setting, got %d", len(all))
	}

	if err := s.DeleteSetting(ctx, "rag_top_k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.GetSetting(ctx, "rag_top_k")
	if got != nil {
		t.Fatal("expected setting deleted")
	}
}
