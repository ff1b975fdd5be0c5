package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const sessionCookie = "simplychat_session"

// sessionCodec signs and verifies the session cookie value. The cookie
// carries "<user id>:<session token>:<hmac>"; the token must still match
// users.session_token, so the signature only prevents forgery, not replay
// of a rotated token.
type sessionCodec struct {
	key []byte
}

func newSessionCodec(secret string) *sessionCodec {
	return &sessionCodec{key: []byte(secret)}
}

func (c *sessionCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *sessionCodec) encode(userID int64, token string) string {
	payload := fmt.Sprintf("%d:%s", userID, token)
	return payload + ":" + c.sign(payload)
}

func (c *sessionCodec) decode(value string) (int64, string, bool) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return 0, "", false
	}
	payload := parts[0] + ":" + parts[1]
	if !hmac.Equal([]byte(c.sign(payload)), []byte(parts[2])) {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 || parts[1] == "" {
		return 0, "", false
	}
	return userID, parts[1], true
}

// newSessionToken returns a fresh 64-hex-character session token.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (a *app) setSessionCookie(w http.ResponseWriter, userID int64, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    a.sessions.encode(userID, token),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.cfg.Env == "production",
		MaxAge:   30 * 24 * 60 * 60,
	})
}

func (a *app) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
