package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sentinelsec/authcore/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the validated session in context
	SessionContextKey contextKey = "session"
)

// SessionValidator validates a bearer token and applies the throttled
// last-activity refresh. Implemented by the session service.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
	Touch(ctx context.Context, sessionID string) error
}

// AccountFetcher loads accounts for role checks.
type AccountFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// SessionMiddleware validates the bearer session token and injects the live
// session into the request context. The query-string token fallback is
// accepted on GET only; it exists for download-style links, never for
// state-changing verbs.
func SessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			session, err := validator.Validate(r.Context(), token)
			if err != nil {
				// Expired, terminated, and unknown tokens are indistinguishable
				// to the caller.
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			// Pending sessions only grant the right to finish their own
			// hand-off step, never general API access.
			if session.Purpose != models.SessionPurposeFull {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			// Throttled refresh; failure here never rejects the request.
			_ = validator.Touch(r.Context(), session.ID)

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access on top of SessionMiddleware.
func RequireRole(accounts AccountFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSessionFromContext(r)
			if session == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			account, err := accounts.GetByID(r.Context(), session.AccountID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if !account.Active || account.IsDeleted() || account.Role != role {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext extracts the validated session from request context.
func GetSessionFromContext(r *http.Request) *models.Session {
	session, ok := r.Context().Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// extractBearerToken reads the Authorization header, falling back to the
// token query parameter for GET requests.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}

	return ""
}
