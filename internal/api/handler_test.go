package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sociosbot/sociosbot/internal/auth"
	"github.com/sociosbot/sociosbot/internal/chat"
	"github.com/sociosbot/sociosbot/internal/config"
	"github.com/sociosbot/sociosbot/internal/pipeline"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: CombineReadinessChecks(nil, func(context.Context) error {
			return errors.New("database unavailable")
		}),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "NOT_READY" {
		t.Fatalf("body = %v", body)
	}
}

func TestAskReturnsOutcome(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(testConfig(t, nil), Dependencies{Pipeline: runner})

	rr := postJSON(h, "/v1/ask", `{"question":"¿Cuántos socios hay?"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["answer"] != "Hay 2 socios." || body["sql"] != "SELECT COUNT(*) FROM socios" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["error_kind"]; ok {
		t.Fatalf("unexpected error_kind in %v", body)
	}
}

func TestAskReportsPipelineErrorKind(t *testing.T) {
	runner := &fakeRunner{kind: pipeline.KindConfiguration, answer: pipeline.MessageMissingCredential}
	h := NewHandler(testConfig(t, nil), Dependencies{Pipeline: runner})

	rr := postJSON(h, "/v1/ask", `{"question":"hola"}`, "")
	body := decodeBody(t, rr)
	if rr.Code != http.StatusOK || body["error_kind"] != "configuration" || body["answer"] != pipeline.MessageMissingCredential {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
}

func TestAskRejectsInvalidJSON(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Pipeline: &fakeRunner{}})
	for _, payload := range []string{`{`, `{"question":"x","extra":1}`} {
		rr := postJSON(h, "/v1/ask", payload, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s status = %d", payload, rr.Code)
		}
	}
}

func TestSessionTwoTurnsThenResetEmptiesHistory(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(testConfig(t, nil), Dependencies{Pipeline: runner, Sessions: chat.NewStore(chat.StoreOptions{})})

	postJSON(h, "/v1/sessions/s1/messages", `{"question":"uno"}`, "")
	rr := postJSON(h, "/v1/sessions/s1/messages", `{"question":"dos"}`, "")
	var turn struct {
		SessionID string         `json:"session_id"`
		Answer    string         `json:"answer"`
		Messages  []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.SessionID != "s1" || len(turn.Messages) != 4 || turn.Answer != "Hay 2 socios." {
		t.Fatalf("turn = %+v", turn)
	}

	del := httptest.NewRecorder()
	h.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1/messages", nil))
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}

	if got := historyLen(t, h, "s1", ""); got != 0 {
		t.Fatalf("history after reset has %d messages", got)
	}
}

func TestAskRunsWithinWriteDeadline(t *testing.T) {
	runner := &stallingRunner{}
	cfg := testConfig(t, map[string]string{"SOCIOSBOT_HTTP_WRITE_TIMEOUT": "400ms"})
	h := NewHandler(cfg, Dependencies{Pipeline: runner})

	start := time.Now()
	rr := postJSON(h, "/v1/ask", `{"question":"¿Cuántos socios hay?"}`, "")
	if elapsed := time.Since(start); elapsed >= cfg.HTTP.WriteTimeout {
		t.Fatalf("answered after %s, write deadline %s", elapsed, cfg.HTTP.WriteTimeout)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["answer"] != pipeline.MessageTimedOut {
		t.Fatalf("body = %v", body)
	}
}

func TestSessionAskQueuedBehindSlowTurnAnswersBusy(t *testing.T) {
	runner := &stallingRunner{hold: make(chan struct{}), started: make(chan struct{})}
	cfg := testConfig(t, map[string]string{"SOCIOSBOT_HTTP_WRITE_TIMEOUT": "400ms"})
	h := NewHandler(cfg, Dependencies{Pipeline: runner})

	done := make(chan struct{})
	go func() {
		postJSON(h, "/v1/sessions/s1/messages", `{"question":"uno"}`, "")
		close(done)
	}()
	<-runner.started

	rr := postJSON(h, "/v1/sessions/s1/messages", `{"question":"dos"}`, "")
	close(runner.hold)
	<-done
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["answer"] != chat.MessageTurnBusy || body["error_kind"] != "busy" {
		t.Fatalf("body = %v", body)
	}
	if got := historyLen(t, h, "s1", ""); got != 2 {
		t.Fatalf("history len = %d, want 2", got)
	}
}

func TestCreateSessionReturnsID(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := postJSON(h, "/v1/sessions", ``, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	id, _ := decodeBody(t, rr)["session_id"].(string)
	if err := chat.ValidateSessionID(id); err != nil {
		t.Fatalf("session id %q: %v", id, err)
	}
}

func TestSessionRejectsInvalidID(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Pipeline: &fakeRunner{}})
	rr := postJSON(h, "/v1/sessions/bad%20id/messages", `{"question":"hola"}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuthAndNamespaceSessions(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SOCIOSBOT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:ana:chat_user,k2:luis:chat_user")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Pipeline:       &fakeRunner{},
	})

	if rr := postJSON(h, "/v1/ask", `{"question":"hola"}`, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}
	if rr := postJSON(h, "/v1/sessions/shared/messages", `{"question":"hola"}`, "k1"); rr.Code != http.StatusOK {
		t.Fatalf("auth status = %d", rr.Code)
	}
	if got := historyLen(t, h, "shared", "k1"); got != 2 {
		t.Fatalf("ana history = %d", got)
	}
	if got := historyLen(t, h, "shared", "k2"); got != 0 {
		t.Fatalf("luis sees %d messages from another subject", got)
	}

	schemaReq := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	schemaReq.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, schemaReq)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("schema without schema_reader status = %d", rr.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SOCIOSBOT_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Pipeline: &fakeRunner{}})
	if rr := postJSON(h, "/v1/ask", `{"question":"hola"}`, ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Schema: fakeSchema{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if !strings.Contains(body["schema"].(string), `CREATE TABLE "socios"`) {
		t.Fatalf("body = %v", body)
	}

	h = NewHandler(testConfig(t, nil), Dependencies{})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without database = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["message"] != pipeline.MessageDatabaseMissing {
		t.Fatalf("body = %v", body)
	}
}

func TestUIFallback(t *testing.T) {
	ui := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chat page"))
	})
	h := NewHandler(testConfig(t, nil), Dependencies{UI: ui})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Body.String() != "chat page" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

type fakeRunner struct {
	kind   pipeline.Kind
	answer string
}

func (f *fakeRunner) Run(_ context.Context, question string) pipeline.Outcome {
	if f.kind != "" {
		return pipeline.Outcome{Question: question, Answer: f.answer, Kind: f.kind}
	}
	return pipeline.Outcome{
		Question: question,
		Answer:   "Hay 2 socios.",
		SQL:      "SELECT COUNT(*) FROM socios",
		Stages:   map[pipeline.Stage]time.Duration{pipeline.StageExecute: time.Millisecond},
	}
}

// stallingRunner answers with a timeout once ctx ends. When hold is set the
// first call also waits for hold to close.
type stallingRunner struct {
	hold    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *stallingRunner) Run(ctx context.Context, question string) pipeline.Outcome {
	if s.hold != nil {
		s.once.Do(func() { close(s.started) })
		<-s.hold
		return pipeline.Outcome{Question: question, Answer: "Hay 2 socios."}
	}
	<-ctx.Done()
	return pipeline.Outcome{Question: question, Answer: pipeline.MessageTimedOut, Kind: pipeline.KindGeneration}
}

type fakeSchema struct{}

func (fakeSchema) Tables(context.Context) ([]string, error) {
	return []string{"socios"}, nil
}

func (fakeSchema) SchemaDescription(context.Context) (string, error) {
	return "CREATE TABLE \"socios\" (\n\t\"id\" INTEGER\n)", nil
}

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	values := map[string]string{"SOCIOSBOT_PROFILE": "test"}
	for k, v := range env {
		values[k] = v
	}
	cfg, err := config.Load("sociosbot-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func postJSON(h http.Handler, path, payload, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func historyLen(t *testing.T, h http.Handler, session, apiKey string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+session+"/messages", nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d", rr.Code)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return len(body.Messages)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
