package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sociosbot/sociosbot/internal/observability"
)

// LangchainCompleter routes completions through langchaingo's OpenAI client.
type LangchainCompleter struct {
	llm         llms.Model
	model       string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration
}

func NewLangchainCompleter(cfg OpenAIConfig) (*LangchainCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	if cfg.HTTPClient != nil {
		clientCopy := *cfg.HTTPClient
		clientCopy.Timeout = timeout
		client = &clientCopy
	}

	opts := []openai.Option{
		openai.WithToken(strings.TrimSpace(cfg.APIKey)),
		openai.WithModel(model),
		openai.WithHTTPClient(client),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, openai.WithBaseURL(base+"/v1"))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchaingo client: %w", err)
	}
	return NewLangchainCompleterWithModel(llm, model, cfg.Temperature, cfg.MaxRetries, cfg.RetryDelay), nil
}

// NewLangchainCompleterWithModel wraps any langchaingo model.
func NewLangchainCompleterWithModel(llm llms.Model, model string, temperature float64, maxRetries int, retryDelay time.Duration) *LangchainCompleter {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LangchainCompleter{
		llm:         llm,
		model:       model,
		temperature: temperature,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

func (c *LangchainCompleter) Provider() string { return "langchaingo" }

func (c *LangchainCompleter) Model() string { return c.model }

func (c *LangchainCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("at least one message is required")
	}
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		if msg.Role == RoleSystem {
			role = llms.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			observability.IncrementModelRetry()
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generate content: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}
		resp, err := c.llm.GenerateContent(ctx, content, llms.WithTemperature(c.temperature))
		if err != nil {
			lastErr = fmt.Errorf("generate content: %w", err)
			if ctx.Err() != nil || !retryableModelError(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("generate content: empty choices")
		}
		return resp.Choices[0].Content, nil
	}
	return "", lastErr
}

// retryableModelError applies the same policy as OpenAICompleter: rate
// limits, provider outages and transport failures are retried, rejected
// requests are not.
func retryableModelError(err error) bool {
	var mapped *llms.Error
	if !errors.As(openai.MapError(err), &mapped) {
		return true
	}
	switch mapped.Code {
	case llms.ErrCodeRateLimit, llms.ErrCodeProviderUnavailable, llms.ErrCodeTimeout, llms.ErrCodeUnknown:
		return true
	}
	return false
}
