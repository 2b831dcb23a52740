// Package api exposes the question pipeline, chat sessions and schema over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sociosbot/sociosbot/internal/auth"
	"github.com/sociosbot/sociosbot/internal/chat"
	"github.com/sociosbot/sociosbot/internal/config"
	"github.com/sociosbot/sociosbot/internal/observability"
	"github.com/sociosbot/sociosbot/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

// Runner answers one question and reports how it went.
type Runner interface {
	Run(ctx context.Context, question string) pipeline.Outcome
}

// SchemaSource describes the database the pipeline queries.
type SchemaSource interface {
	Tables(ctx context.Context) ([]string, error)
	SchemaDescription(ctx context.Context) (string, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Runner
	// Schema is nil when the database could not be loaded.
	Schema   SchemaSource
	Sessions *chat.Store
	UI       http.Handler
}

const maxRequestBytes = 64 << 10

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = chat.NewStore(chat.StoreOptions{
			MaxTurns:    cfg.Chat.MaxTurns,
			MaxSessions: cfg.Chat.MaxSessions,
			IdleTTL:     cfg.Chat.IdleTTL,
		})
	}
	turnTimeout := cfg.TurnTimeout()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	chatOnly := auth.RequireRole(auth.RoleChatUser)
	protected := http.NewServeMux()
	protected.Handle("GET /v1/schema", auth.RequireRole(auth.RoleSchemaReader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})))
	protected.Handle("POST /v1/ask", chatOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, turnTimeout, w, r)
	})))
	protected.Handle("POST /v1/sessions", chatOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(w, r)
	})))
	protected.Handle("POST /v1/sessions/{session}/messages", chatOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSessionAsk(deps, turnTimeout, w, r)
	})))
	protected.Handle("GET /v1/sessions/{session}/messages", chatOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSessionHistory(deps, w, r)
	})))
	protected.Handle("DELETE /v1/sessions/{session}/messages", chatOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSessionReset(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, pattern := range []string{
		"GET /v1/schema",
		"POST /v1/ask",
		"POST /v1/sessions",
		"POST /v1/sessions/{session}/messages",
		"GET /v1/sessions/{session}/messages",
		"DELETE /v1/sessions/{session}/messages",
	} {
		mux.Handle(pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
