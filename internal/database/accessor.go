package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Locator      string
	ReadOnly     bool
	SampleRows   int
	MaxOpenConns int
}

// Accessor is the schema-aware handle the pipeline reads through. It is
// created once per process and shared.
type Accessor struct {
	db         *sql.DB
	locator    Locator
	sampleRows int

	schemaMu sync.Mutex
	schema   string
}

func Open(ctx context.Context, opts Options) (*Accessor, error) {
	locator, err := ParseLocator(opts.Locator)
	if err != nil {
		return nil, &ConnectionError{Locator: opts.Locator, Err: err}
	}
	if locator.FileBacked() {
		if _, err := os.Stat(locator.Path); err != nil {
			return nil, &ConnectionError{Locator: locator.String(), Err: err}
		}
	}

	db, err := sql.Open(locator.Dialect.Driver, locator.dsn(opts.ReadOnly))
	if err != nil {
		return nil, &ConnectionError{Locator: locator.String(), Err: err}
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Locator: locator.String(), Err: fmt.Errorf("ping: %w", err)}
	}

	return newAccessor(db, locator, opts.SampleRows), nil
}

// NewWithDB wraps an already open handle.
func NewWithDB(db *sql.DB, locator Locator, sampleRows int) *Accessor {
	return newAccessor(db, locator, sampleRows)
}

func newAccessor(db *sql.DB, locator Locator, sampleRows int) *Accessor {
	if sampleRows < 0 {
		sampleRows = 0
	}
	return &Accessor{db: db, locator: locator, sampleRows: sampleRows}
}

func (a *Accessor) Dialect() Dialect {
	return a.locator.Dialect
}

func (a *Accessor) Locator() Locator {
	return a.locator
}

func (a *Accessor) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Accessor) Close() error {
	return a.db.Close()
}

func (a *Accessor) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, a.locator.Dialect.listTablesSQL)
	if err != nil {
		return nil, &QueryError{SQL: a.locator.Dialect.listTablesSQL, Err: fmt.Errorf("list tables: %w", err)}
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &QueryError{Err: fmt.Errorf("scan table name: %w", err)}
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: fmt.Errorf("iterate tables: %w", err)}
	}
	return tables, nil
}

type column struct {
	name     string
	dataType string
}

func (a *Accessor) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := a.db.QueryContext(ctx, a.locator.Dialect.listColumnsSQL, table)
	if err != nil {
		return nil, &QueryError{SQL: a.locator.Dialect.listColumnsSQL, Err: fmt.Errorf("list columns of %q: %w", table, err)}
	}
	defer func() { _ = rows.Close() }()

	columns := make([]column, 0)
	for rows.Next() {
		var c column
		var dataType sql.NullString
		if err := rows.Scan(&c.name, &dataType); err != nil {
			return nil, &QueryError{Err: fmt.Errorf("scan column of %q: %w", table, err)}
		}
		c.dataType = dataType.String
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: fmt.Errorf("iterate columns of %q: %w", table, err)}
	}
	return columns, nil
}

// SchemaDescription renders every table as a CREATE TABLE projection followed
// by a few sample rows. The text is built once and reused for the lifetime of
// the accessor.
func (a *Accessor) SchemaDescription(ctx context.Context) (string, error) {
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if a.schema != "" {
		return a.schema, nil
	}

	tables, err := a.Tables(ctx)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", &QueryError{Err: errors.New("database has no tables")}
	}

	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		block, err := a.describeTable(ctx, table)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}
	a.schema = strings.Join(blocks, "\n\n")
	return a.schema, nil
}

func (a *Accessor) describeTable(ctx context.Context, table string) (string, error) {
	columns, err := a.columns(ctx, table)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (\n")
	for i, c := range columns {
		b.WriteString("\t")
		b.WriteString(quoteIdent(c.name))
		if c.dataType != "" {
			b.WriteString(" ")
			b.WriteString(c.dataType)
		}
		if i < len(columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	if a.sampleRows == 0 {
		return b.String(), nil
	}
	sample, err := a.Execute(ctx, "SELECT * FROM "+quoteIdent(table)+" LIMIT "+strconv.Itoa(a.sampleRows))
	if err != nil {
		return "", err
	}
	b.WriteString("\n\n/*\n")
	fmt.Fprintf(&b, "%d rows from %s table:\n", a.sampleRows, table)
	b.WriteString(strings.Join(sample.Columns, "\t"))
	b.WriteString("\n")
	for _, row := range sample.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String(), nil
}

// Execute runs sqlText as-is and collects every row.
func (a *Accessor) Execute(ctx context.Context, sqlText string) (Result, error) {
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return Result{}, &QueryError{SQL: sqlText, Err: errors.New("sql is required")}
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, &QueryError{SQL: statement, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &QueryError{SQL: statement, Err: fmt.Errorf("query columns: %w", err)}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, &QueryError{SQL: statement, Err: fmt.Errorf("scan row: %w", err)}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, &QueryError{SQL: statement, Err: err}
	}

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
