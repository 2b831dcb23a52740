package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Path      string
	Rows      int
	BatchSize int
	Seed      int64
	Overwrite bool
	// Since is the earliest possible fecha_alta.
	Since time.Time
}

func DefaultConfig() Config {
	return Config{
		Path:      "socios.db",
		Rows:      500,
		BatchSize: 100,
		Seed:      time.Now().UTC().UnixNano(),
		Overwrite: false,
		Since:     time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	appliers := []func() error{
		func() error { return applyString(lookup, "SOCIOSBOT_SEED_PATH", &cfg.Path) },
		func() error { return applyInt(lookup, "SOCIOSBOT_SEED_ROWS", &cfg.Rows) },
		func() error { return applyInt(lookup, "SOCIOSBOT_SEED_BATCH_SIZE", &cfg.BatchSize) },
		func() error { return applyInt64(lookup, "SOCIOSBOT_SEED_SEED", &cfg.Seed) },
		func() error { return applyBool(lookup, "SOCIOSBOT_SEED_OVERWRITE", &cfg.Overwrite) },
		func() error { return applyDate(lookup, "SOCIOSBOT_SEED_SINCE", &cfg.Since) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Path == "" {
		return Config{}, fmt.Errorf("SOCIOSBOT_SEED_PATH is required")
	}
	if cfg.Rows <= 0 {
		return Config{}, fmt.Errorf("SOCIOSBOT_SEED_ROWS must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("SOCIOSBOT_SEED_BATCH_SIZE must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	if raw, ok := lookup(key); ok {
		*dst = strings.TrimSpace(raw)
	}
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyDate(lookup LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
