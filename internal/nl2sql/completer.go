package nl2sql

import (
	"context"
	"strings"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer sends one chat exchange to a language model and returns the
// text of the first choice.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// describer is implemented by completers that can name their backend.
type describer interface {
	Provider() string
	Model() string
}

func describe(c Completer) (provider, model string) {
	if d, ok := c.(describer); ok {
		return d.Provider(), d.Model()
	}
	return "unknown", ""
}

// CleanSQL extracts the statement from a model completion: markdown fences,
// a leading "SQLQuery:" label and anything from a "SQLResult:" section on
// are removed.
func CleanSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if idx := strings.Index(trimmed, "SQLResult:"); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	trimmed = stripMarkdownSQL(trimmed)
	if idx := strings.Index(trimmed, "SQLQuery:"); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[idx+len("SQLQuery:"):])
	}
	return stripMarkdownSQL(trimmed)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
