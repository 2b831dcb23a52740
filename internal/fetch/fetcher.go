// Package fetch retrieves the database artifact once when it is not present
// locally and refuses anything that is not a usable database file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sociosbot/sociosbot/internal/database"
	"github.com/sociosbot/sociosbot/internal/observability"
)

// Error reports a failed or invalid artifact download.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch database from %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validator inspects a downloaded file before it is moved into place.
type Validator func(ctx context.Context, path string) error

type Fetcher struct {
	Source       Source
	Dialect      database.Dialect
	MinSizeBytes int64
	Timeout      time.Duration
	Validate     Validator
	Logger       *slog.Logger
}

// Ensure makes sure localPath holds a database file. It reports whether a
// download happened. A partially written file never replaces localPath.
func (f *Fetcher) Ensure(ctx context.Context, localPath string) (bool, error) {
	info, err := os.Stat(localPath)
	if err == nil && info.Size() > 0 {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, &Error{Source: localPath, Err: err}
	}
	if f.Source == nil {
		return false, &Error{Source: "unconfigured", Err: errors.New("no download source configured")}
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	size, err := f.download(ctx, localPath)
	observability.ObserveArtifactFetch(size, err)
	if err != nil {
		return false, &Error{Source: f.Source.Name(), Err: err}
	}
	if f.Logger != nil {
		f.Logger.InfoContext(ctx, "database artifact downloaded",
			slog.String("source", f.Source.Name()),
			slog.String("path", localPath),
			slog.Int64("bytes", size),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, localPath string) (int64, error) {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %q: %w", dir, err)
	}

	body, err := f.Source.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+"-*.download")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return size, fmt.Errorf("write temp file: %w", err)
	}
	if size < f.MinSizeBytes {
		return size, fmt.Errorf("downloaded %d bytes, expected at least %d", size, f.MinSizeBytes)
	}
	if err := checkHeader(tmpPath, f.Dialect); err != nil {
		return size, err
	}
	if f.Validate != nil {
		if err := f.Validate(ctx, tmpPath); err != nil {
			return size, fmt.Errorf("validate database: %w", err)
		}
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return size, fmt.Errorf("move database into place: %w", err)
	}
	keep = true
	return size, nil
}

func checkHeader(path string, dialect database.Dialect) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open downloaded file: %w", err)
	}
	defer func() { _ = file.Close() }()

	header := make([]byte, database.HeaderSize)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	return database.CheckFileHeader(dialect, header[:n])
}

// ValidateTables opens path as a database of the given dialect and requires
// at least one table.
func ValidateTables(dialect database.Dialect) Validator {
	return func(ctx context.Context, path string) error {
		accessor, err := database.Open(ctx, database.Options{
			Locator:  dialect.Name + "://" + path,
			ReadOnly: true,
		})
		if err != nil {
			return err
		}
		defer func() { _ = accessor.Close() }()

		tables, err := accessor.Tables(ctx)
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			return errors.New("database has no tables")
		}
		return nil
	}
}
