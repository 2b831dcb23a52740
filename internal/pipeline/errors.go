package pipeline

import (
	"context"
	"errors"

	"github.com/sociosbot/sociosbot/internal/database"
	"github.com/sociosbot/sociosbot/internal/fetch"
)

// Kind classifies why a question could not be answered.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindFetch               Kind = "fetch"
	KindConnection          Kind = "connection"
	KindDatabaseUnavailable Kind = "database_unavailable"
	KindEmptyQuestion       Kind = "empty_question"
	KindGeneration          Kind = "generation"
	KindQuery               Kind = "query"
)

const (
	MessageMissingCredential = "Error: No se ha configurado la API Key de OpenAI."
	MessageDatabaseMissing   = "Error: No se pudo cargar la base de datos."
	MessageEmptyQuestion     = "Error: La pregunta está vacía."
	MessageTimedOut          = "Error al procesar la consulta: el modelo o la base de datos no respondieron a tiempo."
	messageProcessingPrefix  = "Error al procesar la consulta: "
)

var (
	ErrMissingCredential = errors.New("model credential is not configured")
	ErrDatabaseMissing   = errors.New("database handle is not available")
	ErrEmptyQuestion     = errors.New("question is empty")
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message renders the error as the Spanish sentence shown to users.
func (e *Error) Message() string {
	switch e.Kind {
	case KindConfiguration:
		return MessageMissingCredential
	case KindFetch, KindConnection, KindDatabaseUnavailable:
		return MessageDatabaseMissing
	case KindEmptyQuestion:
		return MessageEmptyQuestion
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return MessageTimedOut
	}
	detail := "error desconocido"
	if e.Err != nil {
		detail = e.Err.Error()
	}
	return messageProcessingPrefix + detail
}

// unavailableKind maps the startup failure that left the pipeline without a
// database to its kind.
func unavailableKind(cause error) Kind {
	var fetchErr *fetch.Error
	if errors.As(cause, &fetchErr) {
		return KindFetch
	}
	var connErr *database.ConnectionError
	if errors.As(cause, &connErr) {
		return KindConnection
	}
	return KindDatabaseUnavailable
}
