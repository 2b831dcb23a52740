package database

import "fmt"

// ConnectionError reports that a database handle could not be constructed.
type ConnectionError struct {
	Locator string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Locator, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError reports a statement the engine refused or failed to run.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
