package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/dealerdesk/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing the authenticated user in context
	UserContextKey contextKey = "user"
	// ClaimsContextKey is the key for storing token claims in context
	ClaimsContextKey contextKey = "claims"
)

// UserRepository loads the user named by a token
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticate resolves the caller's identity from a Bearer token or the
// auth cookie and stores the user in the request context. Requests without a
// usable token continue anonymously; the gates decide what that means.
func Authenticate(tm *TokenManager, users UserRepository, cookieName string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r, cookieName)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				logger.Debug("ignoring invalid access token", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					logger.Error("failed to load token user",
						slog.String("user_id", claims.UserID),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			if !user.IsActive() {
				logger.Info("token presented for inactive user", slog.String("user_id", user.ID))
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = WithUser(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads "Authorization: Bearer <token>", falling back to the cookie
func extractToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// WithUser returns a copy of ctx carrying user
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// CurrentUser returns the authenticated user, or nil for anonymous requests
func CurrentUser(r *http.Request) *models.User {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetClaimsFromContext extracts token claims from request context
func GetClaimsFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
