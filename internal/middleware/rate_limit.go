package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultSendCodeRateLimit caps code (re)sends per client
func DefaultSendCodeRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 5}
}

// DefaultVerifyRateLimit caps code submissions per client
func DefaultVerifyRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// DefaultMFAIPRateLimit caps all code sends and submissions from one IP,
// whichever accounts they target
func DefaultMFAIPRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 30}
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests. Wait a minute and try again.")
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// RateLimitByUser rate limits by authenticated user, falling back to client
// IP for anonymous requests. Must run after auth.Authenticate.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if user := auth.CurrentUser(r); user != nil {
				return "user:" + user.ID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(writeRateLimited),
	)
}
