package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// SessionKey limits per checkout session and client address, so one browser
// cannot burn through another session's submit budget.
func SessionKey(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		session := chi.URLParam(r, "sessionID")
		if session == "" {
			session = "-"
		}
		return scope + ":" + session + ":" + ClientIP(r)
	}
}
