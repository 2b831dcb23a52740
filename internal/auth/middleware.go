package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sociosbot/sociosbot/internal/observability"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware authenticates the caller and stores its identity in the request
// context. Failures answer 401 with a Spanish message the chat page can show.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := credentialFrom(r)
			if key == "" {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Falta la API key.")
				return
			}
			identity, ok := validator.Validate(r.Context(), key)
			if !ok {
				if logger != nil {
					logger.WarnContext(r.Context(), "authentication failed",
						append(observability.RequestAttrs(r.Context()), slog.String("route", r.URL.Path))...)
				}
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "La API key no es válida.")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects authenticated callers lacking role. Requests without
// an identity pass through unchanged.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := IdentityFromContext(r.Context()); ok && !identity.HasRole(role) {
				deny(w, r, http.StatusForbidden, "FORBIDDEN", "No tiene permiso para esta operación ("+role+").")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credentialFrom reads X-API-Key, falling back to a bearer token.
func credentialFrom(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
		TraceID   string `json:"trace_id"`
	}{code, message, false, observability.TraceIDFromContext(r.Context())})
}
