package database

import (
	"bytes"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

// Dialect carries the driver and catalog queries for one database engine.
type Dialect struct {
	Name        string
	DisplayName string
	Driver      string

	listTablesSQL  string
	listColumnsSQL string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		DisplayName: "SQLite",
		Driver:      "sqlite",
		listTablesSQL: `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`,
		listColumnsSQL: `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
	}
	DuckDB = Dialect{
		Name:        "duckdb",
		DisplayName: "DuckDB",
		Driver:      "duckdb",
		listTablesSQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		listColumnsSQL: `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`,
	}
	Postgres = Dialect{
		Name:        "postgres",
		DisplayName: "PostgreSQL",
		Driver:      "pgx",
		listTablesSQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
ORDER BY table_name`,
		listColumnsSQL: `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`,
	}
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	duckdbMagic = []byte("DUCK")
)

// HeaderSize is the number of leading bytes CheckFileHeader needs.
const HeaderSize = 16

// CheckFileHeader verifies that header starts like a database file of the
// given dialect. Dialects that are not file backed always fail.
func CheckFileHeader(dialect Dialect, header []byte) error {
	switch dialect.Name {
	case SQLite.Name:
		if len(header) < len(sqliteMagic) || !bytes.Equal(header[:len(sqliteMagic)], sqliteMagic) {
			return fmt.Errorf("not a sqlite database file")
		}
		return nil
	case DuckDB.Name:
		// DuckDB stores its magic after an 8 byte checksum.
		if len(header) < 12 || !bytes.Equal(header[8:12], duckdbMagic) {
			return fmt.Errorf("not a duckdb database file")
		}
		return nil
	default:
		return fmt.Errorf("%s databases are not file backed", dialect.Name)
	}
}
