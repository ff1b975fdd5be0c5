package main

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a fixed-window in-process counter. Windows are keyed by
// caller + bucket; a restart resets all counters, which is acceptable for a
// single-node deployment.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string]*rateWindow)}
}

func (l *rateLimiter) allow(key string, limit int, period time.Duration) bool {
	if limit <= 0 {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= period {
		l.windows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= limit
}

// ratePeriods maps buckets to window lengths. Auth buckets use short windows
// so lockout probing stays expensive.
var ratePeriods = map[string]time.Duration{
	"chat":              time.Hour,
	"attachment_upload": time.Hour,
	"document_upload":   time.Hour,
	"login":             time.Minute,
	"register":          time.Minute,
}

// allowRate enforces the named bucket for this request. It writes the 429
// response itself and reports whether the handler may proceed.
func (a *app) allowRate(w http.ResponseWriter, r *http.Request, bucket string) bool {
	ctx := r.Context()
	if !a.settings.RateLimitEnabled(ctx) {
		return true
	}
	limit := a.settings.RateLimit(ctx, bucket)
	period, ok := ratePeriods[bucket]
	if !ok {
		return true
	}

	key := rateKey(r, bucket)
	if a.limiter.allow(key, limit, period) {
		return true
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded, try again later",
		"code":  "RATE_LIMIT_EXCEEDED",
	})
	return false
}

// rateKey prefers the authenticated user; anonymous requests (login,
// register) fall back to the client IP.
func rateKey(r *http.Request, bucket string) string {
	if u := currentUser(r); u != nil {
		return fmt.Sprintf("user:%d:%s", u.ID, bucket)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host + ":" + bucket
}
