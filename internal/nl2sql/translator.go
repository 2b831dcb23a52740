// Package nl2sql turns questions into SQL and query results into answers
// through a chat-completion model.
package nl2sql

import (
	"context"
	"fmt"
	"strings"
)

const DefaultTopK = 5

type Request struct {
	Question string `json:"question"`
	Schema   string `json:"schema"`
	// Dialect is the human name of the SQL dialect, e.g. "SQLite".
	Dialect string `json:"dialect"`
	TopK    int    `json:"top_k"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// SQLTranslator asks the model for a single query answering the question.
type SQLTranslator struct {
	completer Completer
}

func NewSQLTranslator(completer Completer) *SQLTranslator {
	return &SQLTranslator{completer: completer}
}

func (t *SQLTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if t.completer == nil {
		return Result{}, fmt.Errorf("model client is not configured")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "SQLite"
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	prompt, err := renderSQLPrompt(dialect, topK, req.Schema, question)
	if err != nil {
		return Result{}, err
	}
	completion, err := t.completer.Complete(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return Result{}, err
	}
	sql := CleanSQL(completion)
	if sql == "" {
		return Result{}, fmt.Errorf("model returned empty SQL")
	}
	provider, model := describe(t.completer)
	return Result{SQL: sql, Provider: provider, Model: model}, nil
}

type AnswerRequest struct {
	Question string
	SQL      string
	// Result is the textual rendering of the query result.
	Result string
}

// Phraser turns a question, its query and the query result into a Spanish
// sentence.
type Phraser struct {
	completer Completer
}

func NewPhraser(completer Completer) *Phraser {
	return &Phraser{completer: completer}
}

func (p *Phraser) Phrase(ctx context.Context, req AnswerRequest) (string, error) {
	if p.completer == nil {
		return "", fmt.Errorf("model client is not configured")
	}
	prompt, err := renderAnswerPrompt(req.Question, req.SQL, req.Result)
	if err != nil {
		return "", err
	}
	return p.completer.Complete(ctx, []Message{{Role: RoleUser, Content: prompt}})
}
