package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit is the limit applied to the unauthenticated login
// endpoints. It sits in front of the lockout tracker: the tracker counts
// failures per account, this counts requests per IP regardless of outcome.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 5,
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
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please slow down.")
		}),
	)
}
