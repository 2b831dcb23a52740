package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sociosbot/sociosbot/internal/cli/sociosctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("SOCIOSBOT_CLI_TIMEOUT")), sociosctl.DefaultTimeout)
	options := sociosctl.Options{
		BaseURL: envOr("SOCIOSBOT_API_URL", "http://localhost:8080"),
		APIKey:  strings.TrimSpace(os.Getenv("SOCIOSBOT_API_KEY")),
		Session: strings.TrimSpace(os.Getenv("SOCIOSBOT_SESSION")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	code := sociosctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid SOCIOSBOT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
