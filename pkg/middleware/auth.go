package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/httputil"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/logger"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// TokenValidator validates a bearer token and returns the caller's user ID.
type TokenValidator func(token string) (string, error)

// Auth rejects requests without a valid bearer token with 401 and stores the
// authenticated user ID in the request context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
				return
			}

			userID, err := validate(strings.TrimSpace(token))
			if err != nil || userID == "" {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = logger.WithUserID(ctx, userID)
			if l := logger.FromContext(ctx); l != slog.Default() {
				ctx = logger.NewContext(ctx, l.With(slog.String("user_id", userID)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user ID, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID returns a copy of ctx carrying an authenticated user ID.
// Handlers mounted without Auth, and tests, use it to inject a caller.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
