package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/tome/internal/tomerr"
)

// Middleware enforces the limiter per client IP. Substrate failures admit
// the request; availability wins over strict enforcement.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)
			decision, err := l.Check(r.Context(), key)
			if err != nil {
				l.logger.Warn("rate limiter unavailable, admitting request",
					"key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			limit, _ := l.Limits()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				writeDenied(w, decision, limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address, honoring the first X-Forwarded-For
// hop when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeDenied(w http.ResponseWriter, d Decision, limit int) {
	retryAfter := int(time.Until(d.ResetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := map[string]any{
		"data": nil,
		"error": map[string]any{
			"code":    string(tomerr.CodeRateLimitExceeded),
			"message": "Rate limit exceeded",
			"details": map[string]any{
				"retryAfter":    retryAfter,
				"requestsLimit": limit,
			},
		},
		"metadata": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}
