package database

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Locator identifies a database: a file for sqlite/duckdb, a DSN for postgres.
type Locator struct {
	Dialect Dialect
	Path    string
	DSN     string
}

// ParseLocator accepts sqlite://path, duckdb://path, postgres:// or
// postgresql:// URLs, and bare file paths (sqlite unless the extension is
// .duckdb).
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("database locator is required")
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		if strings.EqualFold(filepath.Ext(raw), ".duckdb") {
			return fileLocator(DuckDB, raw)
		}
		return fileLocator(SQLite, raw)
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return fileLocator(SQLite, rest)
	case "duckdb":
		return fileLocator(DuckDB, rest)
	case "postgres", "postgresql":
		if _, err := url.Parse(raw); err != nil {
			return Locator{}, fmt.Errorf("parse postgres locator: %w", err)
		}
		return Locator{Dialect: Postgres, DSN: raw}, nil
	default:
		return Locator{}, fmt.Errorf("unsupported database locator scheme %q", scheme)
	}
}

func fileLocator(dialect Dialect, path string) (Locator, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Locator{}, fmt.Errorf("%s locator requires a file path", dialect.Name)
	}
	return Locator{Dialect: dialect, Path: filepath.Clean(path)}, nil
}

// FileBacked reports whether the database lives in a local file that can be
// fetched from remote storage.
func (l Locator) FileBacked() bool {
	return l.Path != ""
}

// String renders the locator with credentials removed.
func (l Locator) String() string {
	if l.Path != "" {
		return l.Dialect.Name + "://" + l.Path
	}
	parsed, err := url.Parse(l.DSN)
	if err != nil {
		return l.Dialect.Name + "://<invalid>"
	}
	return parsed.Redacted()
}

func (l Locator) dsn(readOnly bool) string {
	switch l.Dialect.Name {
	case SQLite.Name:
		if readOnly {
			return "file:" + l.Path + "?mode=ro"
		}
		return l.Path
	case DuckDB.Name:
		if readOnly {
			return l.Path + "?access_mode=read_only"
		}
		return l.Path
	default:
		return l.DSN
	}
}
