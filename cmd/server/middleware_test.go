//go:build cgo

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simplyai/simplychat/store"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &app{store: st, sessions: newSessionCodec("test-secret")}
}

func sessionUser(t *testing.T, a *app, username, token string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := a.store.CreateUser(ctx, store.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if err := a.store.SetSessionToken(ctx, id, token); err != nil {
		t.Fatalf("setting session token: %v", err)
	}
	return id
}

func TestSessionMiddleware(t *testing.T) {
	a := newTestApp(t)
	userID := sessionUser(t, a, "alice", "tok-live")

	var seen *store.User
	handler := a.sessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = currentUser(r)
		w.WriteHeader(http.StatusOK)
	}))

	request := func(cookie string) *httptest.ResponseRecorder {
		seen = nil
		r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie})
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	t.Run("no cookie", func(t *testing.T) {
		w := request("")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "SESSION_INVALIDATED") {
			t.Errorf("missing credentials should not report an invalidated session: %s", w.Body)
		}
	})

	t.Run("forged cookie", func(t *testing.T) {
		w := request("1:tok:bad-signature")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "SESSION_INVALIDATED") {
			t.Errorf("unverifiable cookie should not report an invalidated session: %s", w.Body)
		}
	})

	t.Run("rotated token", func(t *testing.T) {
		// A login elsewhere replaced the stored token; the old cookie still
		// verifies but must be rejected with the re-login code.
		stale := a.sessions.encode(userID, "tok-live")
		if err := a.store.SetSessionToken(context.Background(), userID, "tok-rotated"); err != nil {
			t.Fatal(err)
		}
		w := request(stale)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "SESSION_INVALIDATED") {
			t.Errorf("evicted session should carry code SESSION_INVALIDATED: %s", w.Body)
		}
	})

	t.Run("valid session", func(t *testing.T) {
		w := request(a.sessions.encode(userID, "tok-rotated"))
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d, body %s", w.Code, w.Body)
		}
		if seen == nil || seen.ID != userID {
			t.Errorf("handler should see the authenticated user, got %+v", seen)
		}
	})

	t.Run("public route skips auth", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
	})
}
