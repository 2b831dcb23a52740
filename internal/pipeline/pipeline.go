// Package pipeline answers a question in three stages: the model writes SQL,
// the database runs it and the model phrases the result in Spanish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sociosbot/sociosbot/internal/database"
	"github.com/sociosbot/sociosbot/internal/nl2sql"
	"github.com/sociosbot/sociosbot/internal/observability"
)

type Stage string

const (
	StageSchema   Stage = "schema"
	StageGenerate Stage = "generate_sql"
	StageExecute  Stage = "execute"
	StagePhrase   Stage = "phrase"
)

// Database is the part of the accessor the pipeline reads through.
type Database interface {
	Dialect() database.Dialect
	SchemaDescription(ctx context.Context) (string, error)
	Execute(ctx context.Context, sqlText string) (database.Result, error)
}

type Phraser interface {
	Phrase(ctx context.Context, req nl2sql.AnswerRequest) (string, error)
}

type Options struct {
	// HasCredential reports whether a model credential was configured.
	HasCredential bool
	Translator    nl2sql.Translator
	Phraser       Phraser
	// Database may be nil when it could not be loaded at startup; DatabaseErr
	// then carries the cause.
	Database    Database
	DatabaseErr error
	TopK        int
	// Timeout bounds one Run. It must leave room for the HTTP response to
	// be written, so a stalled model still produces an answer sentence.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Pipeline struct {
	opts Options
}

type Outcome struct {
	Question string
	Answer   string
	SQL      string
	Result   string
	Kind     Kind
	Err      error
	Stages   map[Stage]time.Duration
}

func New(opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = nl2sql.DefaultTopK
	}
	if opts.Database == nil && opts.DatabaseErr == nil {
		opts.DatabaseErr = ErrDatabaseMissing
	}
	return &Pipeline{opts: opts}
}

// Available reports whether questions can reach the database.
func (p *Pipeline) Available() error {
	if p.opts.Database == nil {
		return &Error{Kind: unavailableKind(p.opts.DatabaseErr), Err: p.opts.DatabaseErr}
	}
	return nil
}

// Answer never fails: problems come back as Spanish error sentences.
func (p *Pipeline) Answer(ctx context.Context, question string) string {
	return p.Run(ctx, question).Answer
}

func (p *Pipeline) Run(ctx context.Context, question string) Outcome {
	start := time.Now()
	runCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	outcome := Outcome{Question: question, Stages: map[Stage]time.Duration{}}
	err := p.runRecovered(runCtx, strings.TrimSpace(question), &outcome)
	if err != nil {
		var pipelineErr *Error
		if !errors.As(err, &pipelineErr) {
			pipelineErr = &Error{Kind: KindGeneration, Err: err}
		}
		// Some clients replace the context error with their own text.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(pipelineErr.Err, context.DeadlineExceeded) {
			pipelineErr = &Error{Kind: pipelineErr.Kind, Err: errors.Join(pipelineErr.Err, context.DeadlineExceeded)}
		}
		outcome.Kind = pipelineErr.Kind
		outcome.Err = pipelineErr
		outcome.Answer = pipelineErr.Message()
	}
	observability.ObserveQuestion(string(outcome.Kind))
	p.log(ctx, outcome, time.Since(start))
	return outcome
}

// runRecovered turns a panic in a stage into a generation error so Run keeps
// its promise of always producing an answer.
func (p *Pipeline) runRecovered(ctx context.Context, question string, outcome *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.opts.Logger != nil {
				p.opts.Logger.ErrorContext(ctx, "pipeline stage panicked", append(observability.RequestAttrs(ctx), slog.Any("panic", r))...)
			}
			outcome.Answer = ""
			err = &Error{Kind: KindGeneration, Err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	return p.run(ctx, question, outcome)
}

func (p *Pipeline) run(ctx context.Context, question string, outcome *Outcome) error {
	if !p.opts.HasCredential || p.opts.Translator == nil || p.opts.Phraser == nil {
		return &Error{Kind: KindConfiguration, Err: ErrMissingCredential}
	}
	if err := p.Available(); err != nil {
		return err
	}
	if question == "" {
		return &Error{Kind: KindEmptyQuestion, Err: ErrEmptyQuestion}
	}

	var schema string
	err := p.timed(outcome, StageSchema, func() error {
		var err error
		schema, err = p.opts.Database.SchemaDescription(ctx)
		return err
	})
	if err != nil {
		return &Error{Kind: KindQuery, Err: err}
	}

	var generated nl2sql.Result
	err = p.timed(outcome, StageGenerate, func() error {
		var err error
		generated, err = p.opts.Translator.Translate(ctx, nl2sql.Request{
			Question: question,
			Schema:   schema,
			Dialect:  p.opts.Database.Dialect().DisplayName,
			TopK:     p.opts.TopK,
		})
		return err
	})
	if err != nil {
		return &Error{Kind: KindGeneration, Err: err}
	}
	outcome.SQL = generated.SQL

	var result database.Result
	err = p.timed(outcome, StageExecute, func() error {
		var err error
		result, err = p.opts.Database.Execute(ctx, generated.SQL)
		return err
	})
	if err != nil {
		return &Error{Kind: KindQuery, Err: err}
	}
	outcome.Result = result.Text()

	err = p.timed(outcome, StagePhrase, func() error {
		var err error
		outcome.Answer, err = p.opts.Phraser.Phrase(ctx, nl2sql.AnswerRequest{
			Question: question,
			SQL:      generated.SQL,
			Result:   outcome.Result,
		})
		return err
	})
	if err != nil {
		outcome.Answer = ""
		return &Error{Kind: KindGeneration, Err: err}
	}
	return nil
}

func (p *Pipeline) timed(outcome *Outcome, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	outcome.Stages[stage] = elapsed
	observability.ObserveStage(string(stage), elapsed)
	return err
}

func (p *Pipeline) log(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if p.opts.Logger == nil {
		return
	}
	attrs := append(observability.RequestAttrs(ctx),
		slog.String("sql", outcome.SQL),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	if outcome.Err != nil {
		attrs = append(attrs, slog.String("kind", string(outcome.Kind)), slog.String("error", outcome.Err.Error()))
		p.opts.Logger.WarnContext(ctx, "question failed", attrs...)
		return
	}
	p.opts.Logger.InfoContext(ctx, "question answered", attrs...)
}
