// Command server runs the multi-tenant chat service HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/chat"
	"github.com/simplyai/simplychat/rag"
	"github.com/simplyai/simplychat/settings"
	"github.com/simplyai/simplychat/store"
	"github.com/simplyai/simplychat/vector"
)

// app holds the wired service layers behind the HTTP handlers.
type app struct {
	cfg      simplychat.Config
	store    *store.Store
	vectors  *vector.Store
	settings *settings.Service
	rag      *rag.Service
	chat     *chat.Service
	sessions *sessionCodec
	limiter  *rateLimiter
}

func newApp(cfg simplychat.Config) (*app, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	vs, err := vector.New(cfg.VectorDBPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	set, err := settings.New(st, cfg.SecretKey)
	if err != nil {
		vs.Close()
		st.Close()
		return nil, err
	}
	ragSvc := rag.New(st, vs, set, cfg)

	return &app{
		cfg:      cfg,
		store:    st,
		vectors:  vs,
		settings: set,
		rag:      ragSvc,
		chat:     chat.New(st, ragSvc, set),
		sessions: newSessionCodec(cfg.SecretKey),
		limiter:  newRateLimiter(),
	}, nil
}

func (a *app) close() {
	a.vectors.Close()
	a.store.Close()
}

func main() {
	addrFlag := flag.String("addr", "", "Listen address (overrides PORT)")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	godotenv.Load()

	cfg := configFromEnv()
	addr := listenAddr(*addrFlag)

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if cfg.SecretKey == "" {
		if cfg.Env != "development" {
			slog.Error("SECRET_KEY is required outside development")
			os.Exit(1)
		}
		cfg.SecretKey = "dev-secret-do-not-use-in-production"
		slog.Warn("using built-in development secret key")
	}

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("starting service", "error", err)
		os.Exit(1)
	}
	defer a.close()

	corsOrigins := os.Getenv("SIMPLYCHAT_CORS_ORIGINS")

	// Middleware chain: recovery -> cors -> session -> logging -> mux
	var handler http.Handler = a.routes()
	handler = logMiddleware(handler)
	handler = a.sessionMiddleware(handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

// configFromEnv reads the standard variable names, with SIMPLYCHAT_-prefixed
// forms taking precedence when both are set.
func configFromEnv() simplychat.Config {
	cfg := simplychat.DefaultConfig()
	if v := envOr("SIMPLYCHAT_DB_PATH", "DATABASE_URL"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SIMPLYCHAT_VECTOR_DB_PATH"); v != "" {
		cfg.VectorDBPath = v
	}
	if v := envOr("SIMPLYCHAT_UPLOAD_DIR", "UPLOAD_FOLDER"); v != "" {
		cfg.UploadDir = v
	}
	if v := envOr("SIMPLYCHAT_SECRET_KEY", "SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := envOr("SIMPLYCHAT_ENV", "ENV"); v != "" {
		cfg.Env = v
	}
	if v := envOr("SIMPLYCHAT_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

func envOr(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// listenAddr resolves the listen address: the -addr flag wins, then PORT,
// then the default.
func listenAddr(flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/logout", a.handleLogout)
	mux.HandleFunc("GET /auth/me", a.handleMe)

	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/sessions", a.handleSessions)
	mux.HandleFunc("DELETE /api/chat/{session_id}", a.handleDeleteChat)
	mux.HandleFunc("PUT /api/chat/{session_id}/rename", a.handleRenameChat)
	mux.HandleFunc("GET /api/chat/{session_id}/export", a.handleExportChat)
	mux.HandleFunc("GET /api/chats/export", a.handleExportAllChats)
	mux.HandleFunc("DELETE /api/messages/{id}", a.handleDeleteMessage)
	mux.HandleFunc("POST /api/attachments", a.handleUploadAttachment)

	mux.HandleFunc("GET /api/documents", a.handleListDocuments)
	mux.HandleFunc("POST /api/documents", a.handleUploadDocument)
	mux.HandleFunc("GET /api/documents/stats", a.handleDocumentStats)
	mux.HandleFunc("POST /api/documents/search", a.handleSearchDocuments)
	mux.HandleFunc("GET /api/documents/{id}", a.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", a.handleDeleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/reprocess", a.handleReprocessDocument)

	mux.HandleFunc("GET /api/admin/settings", a.handleAdminListSettings)
	mux.HandleFunc("POST /api/admin/settings", a.handleAdminSetSetting)
	mux.HandleFunc("DELETE /api/admin/settings/{key}", a.handleAdminDeleteSetting)
	mux.HandleFunc("GET /api/admin/secrets", a.handleAdminSecretStatus)
	mux.HandleFunc("POST /api/admin/secrets", a.handleAdminSetSecret)
	mux.HandleFunc("GET /api/admin/models", a.handleAdminListModels)
	mux.HandleFunc("POST /api/admin/models", a.handleAdminSetModel)
	mux.HandleFunc("GET /api/admin/rate-limits", a.handleAdminRateLimits)
	mux.HandleFunc("POST /api/admin/rate-limits", a.handleAdminSetRateLimit)

	mux.HandleFunc("GET /health", a.handleHealth)

	return mux
}
