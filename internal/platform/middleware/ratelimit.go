package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:operator:"

// RateLimiter throttles the operator surface with a fixed window counter per
// client IP. Reconciliation runs are heavyweight, so the budget is small. A
// Redis outage fails open: losing throttling is better than losing the
// operator surface.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRateLimiter creates the limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window, logger: logger}
}

// Limit rejects requests beyond the per-IP budget with 429.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	if l == nil || l.client == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := rateLimitKeyPrefix + ip

		pipe := l.client.TxPipeline()
		count := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, l.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			l.logger.WarnContext(r.Context(), "rate limit check unavailable, allowing request",
				"request_id", GetRequestID(r.Context()),
				"error", err.Error(),
			)
			next.ServeHTTP(w, r)
			return
		}

		if count.Val() > int64(l.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			l.logger.WarnContext(r.Context(), "operator request rate limited",
				"request_id", GetRequestID(r.Context()),
				"ip", ip,
				"path", r.URL.Path,
			)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
