package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const burstMultiplier = 2

type (
	// RateLimiter decides whether a request may proceed. The in-memory
	// token bucket suits a single-node deployment; the interface leaves
	// room for a distributed implementation.
	RateLimiter interface {
		// Allow reports whether a request from the given client key
		// should be admitted. The key is the API key ID for
		// authenticated requests and "" otherwise.
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with a single global
	// token bucket. Export submissions are coarse-grained, so one bucket
	// protects the pipeline without per-client bookkeeping.
	InMemoryRateLimiter struct {
		global *rate.Limiter
	}
)

// NewInMemoryRateLimiter creates a limiter admitting rps sustained requests
// per second with a burst of twice that.
func NewInMemoryRateLimiter(rps int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		global: rate.NewLimiter(rate.Limit(rps), rps*burstMultiplier),
	}
}

// Allow implements RateLimiter.
func (l *InMemoryRateLimiter) Allow(_ string) bool {
	return l.global.Allow()
}

// RateLimit creates a middleware that rejects requests over the limit with
// 429 and a problem document.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			if !limiter.Allow(GetAPIKeyID(r.Context())) {
				correlationID := GetCorrelationID(r.Context())

				logger.Warn("request rate limited",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("correlation_id", correlationID),
				)

				problem := map[string]any{
					"type":           "https://migrator.io/problems/429",
					"title":          "Too Many Requests",
					"status":         http.StatusTooManyRequests,
					"detail":         "Request rate limit exceeded, retry later",
					"correlation_id": correlationID,
				}

				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(problem)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
