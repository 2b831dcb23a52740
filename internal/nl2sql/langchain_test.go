package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestLangchainCompleterCallsOpenAIEndpoint(t *testing.T) {
	var roles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var payload struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		for _, msg := range payload.Messages {
			roles = append(roles, msg.Role)
		}
		writeCompletion(w, "SELECT COUNT(*) FROM socios")
	}))
	defer srv.Close()

	completer, err := NewLangchainCompleter(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "langchaingo", completer.Provider())
	assert.Equal(t, DefaultModel, completer.Model())

	got, err := completer.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "eres un experto"},
		{Role: RoleUser, Content: "¿cuántos socios hay?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM socios", got)
	assert.Equal(t, []string{"system", "user"}, roles)
}

func TestLangchainCompleterRetries(t *testing.T) {
	model := &flakyModel{failures: 2, answer: "listo"}
	completer := NewLangchainCompleterWithModel(model, "fake", 0, 2, time.Millisecond)

	got, err := completer.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hola"}})
	require.NoError(t, err)
	assert.Equal(t, "listo", got)
	assert.Equal(t, 3, model.calls)
}

func TestLangchainCompleterReturnsLastError(t *testing.T) {
	model := &flakyModel{failures: 5}
	completer := NewLangchainCompleterWithModel(model, "fake", 0, 1, time.Millisecond)

	_, err := completer.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hola"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, 2, model.calls)
}

func TestLangchainCompleterRetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		statuses  []int
		wantCalls int
		wantErr   bool
	}{
		{name: "unauthorized is final", statuses: []int{http.StatusUnauthorized}, wantCalls: 1, wantErr: true},
		{name: "bad request is final", statuses: []int{http.StatusBadRequest}, wantCalls: 1, wantErr: true},
		{name: "rate limit then success", statuses: []int{http.StatusTooManyRequests, http.StatusOK}, wantCalls: 2},
		{name: "outage then success", statuses: []int{http.StatusServiceUnavailable, http.StatusOK}, wantCalls: 2},
		{name: "bad gateway exhausts retries", statuses: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway}, wantCalls: 3, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				status := tc.statuses[len(tc.statuses)-1]
				if calls < len(tc.statuses) {
					status = tc.statuses[calls]
				}
				calls++
				if status != http.StatusOK {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(status)
					_, _ = w.Write([]byte(`{"error":{"message":"rejected"}}`))
					return
				}
				writeCompletion(w, "SELECT 1")
			}))
			defer srv.Close()

			completer, err := NewLangchainCompleter(OpenAIConfig{
				BaseURL:    srv.URL,
				APIKey:     "sk-test",
				MaxRetries: 2,
				RetryDelay: time.Millisecond,
			})
			require.NoError(t, err)

			_, err = completer.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hola"}})
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, calls)
		})
	}
}

var errUpstream = errors.New("upstream unavailable")

type flakyModel struct {
	failures int
	answer   string
	calls    int
}

func (m *flakyModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errUpstream
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *flakyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}
