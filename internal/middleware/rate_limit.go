package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds the per-IP edge limit applied in front of the
// per-subject limiter inside the verification service. The edge limit is a
// blunt flood guard; the precise budgets live in the domain layer.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultVerifyRateLimit is the edge limit for code-accepting endpoints.
// Ten per minute comfortably covers a user retyping codes while still
// cutting off scripted guessing at the door.
func DefaultVerifyRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
