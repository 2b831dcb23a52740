// Package app assembles the long-lived collaborators once at startup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sociosbot/sociosbot/internal/chat"
	"github.com/sociosbot/sociosbot/internal/config"
	"github.com/sociosbot/sociosbot/internal/database"
	"github.com/sociosbot/sociosbot/internal/fetch"
	"github.com/sociosbot/sociosbot/internal/nl2sql"
	"github.com/sociosbot/sociosbot/internal/pipeline"
	"github.com/sociosbot/sociosbot/internal/storage"
	s3store "github.com/sociosbot/sociosbot/internal/storage/s3"
)

// Dependencies override what New would otherwise construct from config.
type Dependencies struct {
	Logger      *slog.Logger
	Completer   nl2sql.Completer
	ObjectStore storage.ObjectReader
	HTTPClient  *http.Client
}

// App is the application context shared by every request. Nothing in it is
// mutated after New returns except the chat store, which locks internally.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline
	Sessions *chat.Store

	accessor    *database.Accessor
	databaseErr error
}

// New builds the application context. A database that cannot be fetched or
// opened does not fail startup: the pipeline answers with the
// database-unavailable message instead.
func New(ctx context.Context, cfg config.Config, deps Dependencies) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	completer := deps.Completer
	if completer == nil && cfg.HasCredential() {
		var err error
		completer, err = newCompleter(cfg, deps.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("configure model client: %w", err)
		}
	}
	if !cfg.HasCredential() {
		logger.Warn("model credential is not configured; questions will be answered with a configuration error")
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Sessions: newSessionStore(cfg),
	}
	a.accessor, a.databaseErr = openDatabase(ctx, cfg, deps, logger)
	if a.databaseErr != nil {
		logger.Error("database unavailable", slog.Any("error", a.databaseErr))
	}

	opts := pipeline.Options{
		HasCredential: cfg.HasCredential(),
		DatabaseErr:   a.databaseErr,
		TopK:          cfg.AI.TopK,
		Timeout:       cfg.TurnTimeout(),
		Logger:        logger,
	}
	if completer != nil {
		opts.Translator = nl2sql.NewSQLTranslator(completer)
		opts.Phraser = nl2sql.NewPhraser(completer)
	}
	if a.accessor != nil {
		opts.Database = a.accessor
	}
	a.Pipeline = pipeline.New(opts)
	return a, nil
}

// Database returns the accessor, or the startup error that left it nil.
func (a *App) Database() (*database.Accessor, error) {
	if a.accessor == nil {
		return nil, a.databaseErr
	}
	return a.accessor, nil
}

// Ready fails while the database is unavailable or unreachable.
func (a *App) Ready(ctx context.Context) error {
	if a.accessor == nil {
		return fmt.Errorf("database unavailable: %w", a.databaseErr)
	}
	return a.accessor.Ping(ctx)
}

func (a *App) Close() error {
	if a.accessor == nil {
		return nil
	}
	return a.accessor.Close()
}

func newCompleter(cfg config.Config, client *http.Client) (nl2sql.Completer, error) {
	aiCfg := nl2sql.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
		MaxRetries:  cfg.AI.MaxRetries,
		HTTPClient:  client,
	}
	switch cfg.AI.Provider {
	case "langchaingo":
		return nl2sql.NewLangchainCompleter(aiCfg)
	default:
		return nl2sql.NewOpenAICompleter(aiCfg)
	}
}

func openDatabase(ctx context.Context, cfg config.Config, deps Dependencies, logger *slog.Logger) (*database.Accessor, error) {
	locator, err := database.ParseLocator(cfg.Database.Locator)
	if err != nil {
		return nil, &database.ConnectionError{Locator: cfg.Database.Locator, Err: err}
	}
	if locator.FileBacked() && cfg.Fetch.Enabled {
		source, err := newSource(cfg, deps)
		if err != nil {
			return nil, &fetch.Error{Source: cfg.Fetch.Source, Err: err}
		}
		fetcher := &fetch.Fetcher{
			Source:       source,
			Dialect:      locator.Dialect,
			MinSizeBytes: cfg.Fetch.MinSizeBytes,
			Timeout:      cfg.Fetch.Timeout,
			Validate:     fetch.ValidateTables(locator.Dialect),
			Logger:       logger,
		}
		if _, err := fetcher.Ensure(ctx, locator.Path); err != nil {
			return nil, err
		}
	}

	accessor, err := database.Open(ctx, database.Options{
		Locator:      cfg.Database.Locator,
		ReadOnly:     cfg.Database.ReadOnly,
		SampleRows:   cfg.Database.SampleRows,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("database opened",
		slog.String("locator", accessor.Locator().String()),
		slog.String("dialect", accessor.Dialect().Name),
	)
	return accessor, nil
}

func newSource(cfg config.Config, deps Dependencies) (fetch.Source, error) {
	switch cfg.Fetch.Source {
	case "s3":
		store := deps.ObjectStore
		if store == nil {
			s3, err := s3store.New(s3store.Config{
				Endpoint:        cfg.ObjectStore.Endpoint,
				Region:          cfg.ObjectStore.Region,
				Bucket:          cfg.ObjectStore.Bucket,
				AccessKeyID:     cfg.ObjectStore.AccessKeyID,
				SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
				UseSSL:          cfg.ObjectStore.UseSSL,
				Prefix:          cfg.ObjectStore.Prefix,
			})
			if err != nil {
				return nil, err
			}
			store = s3
		}
		if cfg.Fetch.ObjectKey == "" {
			return nil, errors.New("SOCIOSBOT_FETCH_OBJECT_KEY is required for the s3 source")
		}
		return &fetch.ObjectSource{Store: store, Key: cfg.Fetch.ObjectKey}, nil
	default:
		return fetch.NewFileShareSource(cfg.Fetch.URLTemplate, cfg.Fetch.FileID, deps.HTTPClient)
	}
}

func newSessionStore(cfg config.Config) *chat.Store {
	return chat.NewStore(chat.StoreOptions{
		MaxTurns:    cfg.Chat.MaxTurns,
		MaxSessions: cfg.Chat.MaxSessions,
		IdleTTL:     cfg.Chat.IdleTTL,
	})
}
