package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sociosbot/sociosbot/internal/auth"
	"github.com/sociosbot/sociosbot/internal/chat"
	"github.com/sociosbot/sociosbot/internal/pipeline"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer    string           `json:"answer"`
	SQL       string           `json:"sql,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	StagesMs  map[string]int64 `json:"stages_ms,omitempty"`
}

type sessionResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
	askResponse
}

// turnContext bounds one question, queueing included, so the answer is
// written before the server's write deadline.
func turnContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), timeout)
}

func handleAsk(deps Dependencies, timeout time.Duration, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	ctx, cancel := turnContext(r, timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, toAskResponse(deps.Pipeline.Run(ctx, question)))
}

func handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": chat.NewSessionID()})
}

func handleSessionAsk(deps Dependencies, timeout time.Duration, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	sessionID, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	session := deps.Sessions.Session(storeKey(r, sessionID))
	recorder := &outcomeRecorder{runner: deps.Pipeline}
	ctx, cancel := turnContext(r, timeout)
	defer cancel()
	answer := session.Ask(ctx, recorder, question)
	resp := toAskResponse(recorder.outcome)
	if !recorder.ran {
		resp.Answer = answer
		resp.ErrorKind = "busy"
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:   sessionID,
		Messages:    session.Messages(),
		askResponse: resp,
	})
}

func handleSessionHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   deps.Sessions.Messages(storeKey(r, sessionID)),
	})
}

func handleSessionReset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	deps.Sessions.Reset(storeKey(r, sessionID))
	w.WriteHeader(http.StatusNoContent)
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return "", false
	}
	// Blank questions still reach the pipeline, which answers them with its
	// own message.
	return req.Question, true
}

func sessionFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := strings.TrimSpace(r.PathValue("session"))
	if err := chat.ValidateSessionID(sessionID); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION", err.Error(), false, nil)
		return "", false
	}
	return sessionID, true
}

// storeKey scopes a client-chosen session id to the authenticated caller.
func storeKey(r *http.Request, sessionID string) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		identity = auth.Anonymous
	}
	return identity.Subject + "/" + sessionID
}

func toAskResponse(outcome pipeline.Outcome) askResponse {
	stages := make(map[string]int64, len(outcome.Stages))
	for stage, elapsed := range outcome.Stages {
		stages[string(stage)] = elapsed.Milliseconds()
	}
	return askResponse{
		Answer:    outcome.Answer,
		SQL:       outcome.SQL,
		ErrorKind: string(outcome.Kind),
		StagesMs:  stages,
	}
}

// outcomeRecorder lets a chat session drive the pipeline while the handler
// keeps the full outcome.
type outcomeRecorder struct {
	runner  Runner
	outcome pipeline.Outcome
	ran     bool
}

func (o *outcomeRecorder) Answer(ctx context.Context, question string) string {
	o.ran = true
	o.outcome = o.runner.Run(ctx, question)
	return o.outcome.Answer
}
