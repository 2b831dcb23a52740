// Package seed writes a demo membership database so the service can run
// without the remote artifact.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `CREATE TABLE socios (
	id INTEGER PRIMARY KEY,
	nombre TEXT NOT NULL,
	sucursal TEXT NOT NULL,
	fecha_alta DATE NOT NULL,
	activo INTEGER NOT NULL,
	saldo_ahorro REAL NOT NULL,
	saldo_credito REAL NOT NULL
);
CREATE INDEX idx_socios_sucursal ON socios (sucursal);`

type Summary struct {
	Path          string
	Rows          int
	TotalAhorro   float64
	ActiveMembers int
	Duration      time.Duration
}

// Write creates the sqlite file at cfg.Path and fills it with cfg.Rows
// generated members. The file appears only once fully written.
func Write(ctx context.Context, cfg Config, logger *slog.Logger) (Summary, error) {
	if _, err := os.Stat(cfg.Path); err == nil && !cfg.Overwrite {
		return Summary{}, fmt.Errorf("%s already exists; set SOCIOSBOT_SEED_OVERWRITE=true to replace it", cfg.Path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Summary{}, fmt.Errorf("stat %s: %w", cfg.Path, err)
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmpPath := filepath.Join(dir, "."+filepath.Base(cfg.Path)+".seed")
	_ = os.Remove(tmpPath)
	defer func() { _ = os.Remove(tmpPath) }()

	start := time.Now()
	summary, err := fill(ctx, tmpPath, cfg, logger)
	if err != nil {
		return Summary{}, err
	}
	if err := os.Rename(tmpPath, cfg.Path); err != nil {
		return Summary{}, fmt.Errorf("move database into place: %w", err)
	}
	summary.Path = cfg.Path
	summary.Duration = time.Since(start)
	return summary, nil
}

func fill(ctx context.Context, path string, cfg Config, logger *slog.Logger) (Summary, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Summary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return Summary{}, fmt.Errorf("create schema: %w", err)
	}

	generator := NewGenerator(cfg.Seed, cfg.Since)
	summary := Summary{}
	for written := 0; written < cfg.Rows; {
		batch := min(cfg.BatchSize, cfg.Rows-written)
		socios := make([]Socio, batch)
		for i := range socios {
			socios[i] = generator.Next()
			summary.TotalAhorro += socios[i].SaldoAhorro
			if socios[i].Activo {
				summary.ActiveMembers++
			}
		}
		if err := insertBatch(ctx, db, socios); err != nil {
			return Summary{}, err
		}
		written += batch
		if logger != nil {
			logger.DebugContext(ctx, "seed batch written", slog.Int("rows", written), slog.Int("total", cfg.Rows))
		}
	}
	summary.Rows = cfg.Rows
	summary.TotalAhorro = round2(summary.TotalAhorro)
	return summary, nil
}

func insertBatch(ctx context.Context, db *sql.DB, socios []Socio) error {
	placeholders := make([]string, len(socios))
	args := make([]any, 0, len(socios)*7)
	for i, s := range socios {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, s.ID, s.Nombre, s.Sucursal, s.FechaAlta.Format(time.DateOnly), boolToInt(s.Activo), s.SaldoAhorro, s.SaldoCredito)
	}
	stmt := "INSERT INTO socios (id, nombre, sucursal, fecha_alta, activo, saldo_ahorro, saldo_credito) VALUES " +
		strings.Join(placeholders, ", ")
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert socios batch: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
