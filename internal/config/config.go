package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const DefaultDriveURLTemplate = "https://drive.google.com/uc?export=download&id=%s"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Fetch         FetchConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Chat          ChatConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Locator      string
	ReadOnly     bool
	SampleRows   int
	MaxOpenConns int
}

// FetchConfig controls the one-time download of the database artifact when the
// locator points at a local file that does not exist yet.
type FetchConfig struct {
	Enabled      bool
	Source       string
	FileID       string
	URLTemplate  string
	ObjectKey    string
	Timeout      time.Duration
	MinSizeBytes int64
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	APIKeyFile  string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	TopK        int
}

type ChatConfig struct {
	MaxTurns    int
	MaxSessions int
	IdleTTL     time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SOCIOSBOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SOCIOSBOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "SOCIOSBOT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SOCIOSBOT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "SOCIOSBOT_DB_LOCATOR", &cfg.Database.Locator) },
		func() error { return applyBool(lookup, "SOCIOSBOT_DB_READ_ONLY", &cfg.Database.ReadOnly) },
		func() error { return applyInt(lookup, "SOCIOSBOT_DB_SAMPLE_ROWS", &cfg.Database.SampleRows) },
		func() error { return applyInt(lookup, "SOCIOSBOT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyBool(lookup, "SOCIOSBOT_FETCH_ENABLED", &cfg.Fetch.Enabled) },
		func() error { return applyString(lookup, "SOCIOSBOT_FETCH_SOURCE", &cfg.Fetch.Source) },
		func() error { return applyString(lookup, "SOCIOSBOT_FETCH_FILE_ID", &cfg.Fetch.FileID) },
		func() error { return applyString(lookup, "SOCIOSBOT_FETCH_URL_TEMPLATE", &cfg.Fetch.URLTemplate) },
		func() error { return applyString(lookup, "SOCIOSBOT_FETCH_OBJECT_KEY", &cfg.Fetch.ObjectKey) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_FETCH_TIMEOUT", &cfg.Fetch.Timeout) },
		func() error { return applyInt64(lookup, "SOCIOSBOT_FETCH_MIN_SIZE_BYTES", &cfg.Fetch.MinSizeBytes) },
		func() error { return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "SOCIOSBOT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SOCIOSBOT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyString(lookup, "SOCIOSBOT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "SOCIOSBOT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "SOCIOSBOT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "SOCIOSBOT_AI_API_KEY_FILE", &cfg.AI.APIKeyFile) },
		func() error { return applyString(lookup, "SOCIOSBOT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "SOCIOSBOT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "SOCIOSBOT_AI_MAX_RETRIES", &cfg.AI.MaxRetries) },
		func() error { return applyInt(lookup, "SOCIOSBOT_AI_TOP_K", &cfg.AI.TopK) },
		func() error { return applyInt(lookup, "SOCIOSBOT_CHAT_MAX_TURNS", &cfg.Chat.MaxTurns) },
		func() error { return applyInt(lookup, "SOCIOSBOT_CHAT_MAX_SESSIONS", &cfg.Chat.MaxSessions) },
		func() error { return applyDuration(lookup, "SOCIOSBOT_CHAT_IDLE_TTL", &cfg.Chat.IdleTTL) },
		func() error { return applyBool(lookup, "SOCIOSBOT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SOCIOSBOT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "SOCIOSBOT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "SOCIOSBOT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.AI.APIKey == "" {
		key, err := readSecretFile(cfg.AI.APIKeyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.AI.APIKey = key
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Database.Locator == "" {
		return Config{}, fmt.Errorf("database locator is required")
	}
	switch cfg.AI.Provider {
	case "openai", "langchaingo":
	default:
		return Config{}, fmt.Errorf("invalid SOCIOSBOT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	switch cfg.Fetch.Source {
	case "http", "s3":
	default:
		return Config{}, fmt.Errorf("invalid SOCIOSBOT_FETCH_SOURCE: %q", cfg.Fetch.Source)
	}
	if cfg.AI.MaxRetries < 0 {
		return Config{}, fmt.Errorf("SOCIOSBOT_AI_MAX_RETRIES must be >= 0")
	}
	return cfg, nil
}

// HasCredential reports whether a model API key was resolved from the
// environment or the fallback secret file.
func (c Config) HasCredential() bool {
	return strings.TrimSpace(c.AI.APIKey) != ""
}

// turnWriteMargin is kept free at the end of the write deadline to send the
// answer once the pipeline gives up.
const turnWriteMargin = 10 * time.Second

// TurnTimeout bounds answering one question. It ends before the HTTP write
// deadline, so even a stalled model yields a response; 0 means unbounded.
func (c Config) TurnTimeout() time.Duration {
	write := c.HTTP.WriteTimeout
	if write <= 0 {
		return 0
	}
	if write <= 2*turnWriteMargin {
		return write / 2
	}
	return write - turnWriteMargin
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sociosbot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Locator:      "sqlite://socios.db",
			ReadOnly:     true,
			SampleRows:   3,
			MaxOpenConns: 4,
		},
		Fetch: FetchConfig{
			Enabled:      true,
			Source:       "http",
			FileID:       "",
			URLTemplate:  DefaultDriveURLTemplate,
			ObjectKey:    "socios.db",
			Timeout:      2 * time.Minute,
			MinSizeBytes: 4096,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "sociosbot",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
		},
		AI: AIConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com",
			APIKeyFile:  ".env",
			Model:       "gpt-3.5-turbo",
			Temperature: 0,
			Timeout:     30 * time.Second,
			MaxRetries:  2,
			TopK:        5,
		},
		Chat: ChatConfig{
			MaxTurns:    50,
			MaxSessions: 10000,
			IdleTTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Fetch.Enabled = false
		cfg.AI.APIKeyFile = ""
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// readSecretFile reads the model key from a dotenv-format file. A missing file
// is not an error: the pipeline degrades to its configuration error instead.
func readSecretFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secret file %q: %w", path, err)
	}
	for _, key := range []string{"SOCIOSBOT_AI_API_KEY", "OPENAI_API_KEY"} {
		if value := strings.TrimSpace(values[key]); value != "" {
			return value, nil
		}
	}
	return "", nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
