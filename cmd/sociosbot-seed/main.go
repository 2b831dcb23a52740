package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sociosbot/sociosbot/internal/demo/seed"
)

func main() {
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("writing demo database",
		slog.String("path", cfg.Path),
		slog.Int("rows", cfg.Rows),
		slog.Int64("seed", cfg.Seed),
	)
	summary, err := seed.Write(ctx, cfg, logger)
	if err != nil {
		logger.Error("demo database not written", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo database written",
		slog.String("path", summary.Path),
		slog.Int("rows", summary.Rows),
		slog.Int("active_members", summary.ActiveMembers),
		slog.Float64("total_ahorro", summary.TotalAhorro),
		slog.Duration("duration", summary.Duration),
	)
}
