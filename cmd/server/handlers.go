package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/chat"
	"github.com/simplyai/simplychat/extract"
	"github.com/simplyai/simplychat/store"
)

const (
	maxImageBytes    = 10 << 20
	maxDocumentBytes = 20 << 20

	lockoutThreshold = 5
	lockoutDuration  = 15 * time.Minute
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
}

// --- auth ---

func (a *app) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.allowRate(w, r, "register") {
		return
	}

	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DateOfBirth string `json:"date_of_birth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	switch {
	case len(req.Username) < 3:
		writeError(w, http.StatusBadRequest, "username must be at least 3 characters")
		return
	case !strings.Contains(req.Email, "@"):
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	case len(req.Password) < 8:
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.DateOfBirth != "" {
		if _, err := time.Parse("2006-01-02", req.DateOfBirth); err != nil {
			writeError(w, http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
			return
		}
	}

	ctx := r.Context()
	if u, err := a.store.GetUserByUsername(ctx, req.Username); err == nil && u != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if u, err := a.store.GetUserByEmail(ctx, req.Email); err == nil && u != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	userID, err := a.store.CreateUser(ctx, store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		IsActive:     true,
		DateOfBirth:  req.DateOfBirth,
	})
	if err != nil {
		slog.Error("creating user", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if err := a.startSession(w, r, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	u, _ := a.store.GetUser(ctx, userID)
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.allowRate(w, r, "login") {
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	u, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err == nil && u == nil && strings.Contains(req.Username, "@") {
		u, err = a.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Username)))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if u == nil || !u.IsActive {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if u.AccountLockedUntil != nil && u.AccountLockedUntil.After(time.Now()) {
		writeError(w, http.StatusForbidden, "account locked, try again later")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		if err := a.store.RecordFailedLogin(ctx, u.ID, lockoutThreshold, time.Now().Add(lockoutDuration)); err != nil {
			slog.Warn("recording failed login", "user_id", u.ID, "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := a.store.RecordLogin(ctx, u.ID); err != nil {
		slog.Warn("recording login", "user_id", u.ID, "error", err)
	}
	if err := a.startSession(w, r, u.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	u, _ = a.store.GetUser(ctx, u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// startSession rotates the user's session token and sets the cookie. Any
// other device holding the old token is logged out.
func (a *app) startSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	token, err := newSessionToken()
	if err != nil {
		return err
	}
	if err := a.store.SetSessionToken(r.Context(), userID, token); err != nil {
		return err
	}
	a.setSessionCookie(w, userID, token)
	return nil
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	if err := a.store.SetSessionToken(r.Context(), u.ID, ""); err != nil {
		slog.Warn("clearing session token", "user_id", u.ID, "error", err)
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *app) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": currentUser(r)})
}

// --- chat ---

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	if !a.allowRate(w, r, "chat") {
		return
	}

	var req struct {
		Message            string                 `json:"message"`
		Model              string                 `json:"model"`
		LocalModelProvider string                 `json:"local_model_provider"`
		SessionID          string                 `json:"session_id"`
		ModelName          string                 `json:"model_name"`
		Attachments        []chat.AttachmentInput `json:"attachments"`
		LocalVisionEnabled bool                   `json:"local_vision_enabled"`
		UseRAG             *bool                  `json:"use_rag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	provider := req.Model
	if req.LocalModelProvider != "" {
		provider = req.LocalModelProvider
	}
	useRAG := req.UseRAG == nil || *req.UseRAG

	frames, err := a.chat.Stream(r.Context(), chat.Request{
		UserID:             currentUser(r).ID,
		SessionID:          req.SessionID,
		Message:            req.Message,
		Provider:           provider,
		ModelName:          req.ModelName,
		LocalVisionEnabled: req.LocalVisionEnabled,
		UseRAG:             useRAG,
		Attachments:        req.Attachments,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			slog.Error("marshaling frame", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (a *app) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	c, msgs, err := a.chat.History(r.Context(), currentUser(r).ID, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": c, "messages": msgs})
}

func (a *app) handleSessions(w http.ResponseWriter, r *http.Request) {
	chats, err := a.chat.Sessions(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": chats})
}

func (a *app) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	err := a.chat.DeleteSession(r.Context(), currentUser(r).ID, cleanPathValue(r, "session_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *app) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	err := a.chat.Rename(r.Context(), currentUser(r).ID, cleanPathValue(r, "session_id"), req.Name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (a *app) handleExportChat(w http.ResponseWriter, r *http.Request) {
	name, content, err := a.chat.Export(r.Context(), currentUser(r).ID, cleanPathValue(r, "session_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.WriteString(w, content)
}

func (a *app) handleExportAllChats(w http.ResponseWriter, r *http.Request) {
	data, err := a.chat.ExportAll(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="chats.zip"`)
	w.Write(data)
}

func (a *app) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(cleanPathValue(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := a.chat.DeleteMessage(r.Context(), currentUser(r).ID, id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleUploadAttachment stores a chat attachment and returns its metadata;
// the client echoes that metadata in the next /api/chat request.
func (a *app) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if !a.allowRate(w, r, "attachment_upload") {
		return
	}

	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))

	var (
		dir      string
		fileType string
		maxSize  int64
	)
	if allowedImageTypes[mimeType] {
		dir, fileType, maxSize = a.cfg.ImagesDir(), "image", maxImageBytes
	} else if extract.Supported(ext) || ext == "pdf" {
		dir, fileType, maxSize = a.cfg.DocumentsDir(), "document", maxDocumentBytes
	} else {
		writeError(w, http.StatusBadRequest, "unsupported attachment type")
		return
	}
	if header.Size > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MiB limit", maxSize>>20))
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	storedName := uuid.NewString()
	if ext != "" {
		storedName += "." + ext
	}
	path := filepath.Join(dir, storedName)

	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	size, err := io.Copy(dst, io.LimitReader(file, maxSize+1))
	dst.Close()
	if err != nil || size > maxSize {
		os.Remove(path)
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"attachment": chat.AttachmentInput{
			OriginalFilename: filepath.Base(header.Filename),
			StoredFilename:   storedName,
			FilePath:         path,
			MIMEType:         mimeType,
			FileSize:         size,
			FileType:         fileType,
		},
	})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- shared helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service-layer sentinel errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simplychat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simplychat.ErrForbidden),
		errors.Is(err, simplychat.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, simplychat.ErrEmptyMessage),
		errors.Is(err, simplychat.ErrUnsupportedFormat),
		errors.Is(err, simplychat.ErrEmptyDocument),
		errors.Is(err, simplychat.ErrUnknownProvider),
		errors.Is(err, simplychat.ErrVisionNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, simplychat.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
