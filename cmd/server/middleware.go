package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/simplyai/simplychat/store"
)

type contextKey int

const userKey contextKey = 0

// currentUser returns the authenticated user, or nil on public routes.
func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(userKey).(*store.User)
	return u
}

// publicRoute reports whether a path skips session authentication.
func publicRoute(path string) bool {
	switch path {
	case "/auth/register", "/auth/login", "/health":
		return true
	}
	return false
}

// sessionMiddleware authenticates every non-public request against the
// signed session cookie and the user's stored session token. A stale token
// (rotated by a login elsewhere) clears the cookie and returns 401 with
// code SESSION_INVALIDATED so clients can force a re-login.
func (a *app) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoute(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			a.unauthenticated(w)
			return
		}
		userID, token, ok := a.sessions.decode(cookie.Value)
		if !ok {
			a.unauthenticated(w)
			return
		}

		u, err := a.store.GetUser(r.Context(), userID)
		if err != nil {
			slog.Error("loading session user", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if u == nil || !u.IsActive || u.SessionToken != token {
			a.sessionInvalidated(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// unauthenticated handles requests that never carried a verifiable session:
// no cookie, or one that fails signature verification.
func (a *app) unauthenticated(w http.ResponseWriter) {
	a.clearSessionCookie(w)
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// sessionInvalidated handles a correctly signed cookie whose stored token no
// longer matches: the session was evicted by a login elsewhere or the account
// was deactivated. The code tells clients to force a re-login.
func (a *app) sessionInvalidated(w http.ResponseWriter) {
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": "session invalidated, please log in again",
		"code":  "SESSION_INVALIDATED",
	})
}

// logMiddleware logs each request with method, path, status, and duration.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware catches panics, logs the stack trace, and returns 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", fmt.Sprintf("%v", err),
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers. Origins is a comma-separated list of
// allowed origins. If empty, CORS headers are not set.
func corsMiddleware(origins string, next http.Handler) http.Handler {
	if origins == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE responses stream through the logging wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// adminOnly guards admin routes; non-admins get 403.
func (a *app) adminOnly(w http.ResponseWriter, r *http.Request) bool {
	u := currentUser(r)
	if u == nil || !u.IsAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return false
	}
	return true
}

// cleanPathValue trims surrounding whitespace from a path parameter.
func cleanPathValue(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
