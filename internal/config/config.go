package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-petshop/internal/tax"
)

// MVA configuration sources.
const (
	MVASourcePostgres = "postgres"
	MVASourceFile     = "file"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	TaxDefaults tax.Defaults

	MVASource         string
	MVAFilePath       string
	MVAReloadInterval time.Duration
	MVACacheKey       string
	MVACacheTTL       time.Duration
	MVAUpdatesChannel string

	QuoteParallelism int
	QuoteMaxItems    int

	RateLimitWindow    time.Duration
	RateLimitMax       int
	AdminRateLimit     string
	HTTPBodyLimitBytes int64

	LockTTL           time.Duration
	LockRetryBackoff  time.Duration
	WorkerConcurrency int
	MigrateOnStart    bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	defaults, err := loadTaxDefaults(k)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		TaxDefaults:        defaults,
		MVASource:          strings.ToLower(valueOrDefault(k.String("MVA_SOURCE"), MVASourcePostgres)),
		MVAFilePath:        strings.TrimSpace(k.String("MVA_FILE_PATH")),
		MVAReloadInterval:  parseDuration(k.String("MVA_RELOAD_INTERVAL"), "5m"),
		MVACacheKey:        valueOrDefault(k.String("MVA_CACHE_KEY"), "mva:snapshot"),
		MVACacheTTL:        parseDuration(k.String("MVA_CACHE_TTL"), "0s"),
		MVAUpdatesChannel:  valueOrDefault(k.String("MVA_UPDATES_CHANNEL"), "mva:updated"),
		QuoteParallelism:   parseInt(k.String("QUOTE_PARALLELISM"), 4),
		QuoteMaxItems:      parseInt(k.String("QUOTE_MAX_ITEMS"), 500),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 600),
		AdminRateLimit:     valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "120-M"),
		HTTPBodyLimitBytes: int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 2),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
	}

	switch cfg.MVASource {
	case MVASourcePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when MVA_SOURCE=postgres")
		}
	case MVASourceFile:
		if cfg.MVAFilePath == "" {
			return nil, errors.New("MVA_FILE_PATH is required when MVA_SOURCE=file")
		}
	default:
		return nil, fmt.Errorf("MVA_SOURCE must be %q or %q, got %q", MVASourcePostgres, MVASourceFile, cfg.MVASource)
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MVAWritable reports whether the configured MVA source accepts admin writes.
func (c *Config) MVAWritable() bool {
	return c.MVASource == MVASourcePostgres
}

func loadTaxDefaults(k *koanf.Koanf) (tax.Defaults, error) {
	d := tax.StandardDefaults()
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"TAX_DEFAULT_MVA_PERCENT", &d.MVAPercent},
		{"TAX_DEFAULT_ICMS_OWN_RATE", &d.ICMSOwnRatePercent},
		{"TAX_DEFAULT_ST_INTERNAL_RATE", &d.STInternalRatePercent},
		{"TAX_DEFAULT_IPI_RATE", &d.IPIRatePercent},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(k.String(f.key))
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return tax.Defaults{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}
	if err := d.Validate(); err != nil {
		return tax.Defaults{}, fmt.Errorf("tax defaults: %w", err)
	}
	return d, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
