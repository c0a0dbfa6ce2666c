package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	// Storage
	StoreBackend  string
	DatabaseURL   string
	DBHost        string
	DBPort        int
	DBName        string
	DBUser        string
	DBPassword    string
	DBMaxConns    int
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// API
	APIPort           int
	CORSAllowOrigin   string
	LatestPricesLimit int
	MaxPricesLimit    int

	// Price source
	REEBaseURL           string
	REETimeoutSeconds    int
	MalformedValuePolicy string

	// Timing
	IngestIntervalSeconds     int
	IngestCycleTimeoutSeconds int
}

// Load reads .env (if present) and the environment. Real environment
// variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Storage
		StoreBackend:  strings.ToLower(envStr("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		DBHost:        envStr("DB_HOST", "localhost"),
		DBPort:        envInt("DB_PORT", 5432),
		DBName:        envStr("DB_NAME", "energy_monitor"),
		DBUser:        envStr("DB_USER", "postgres"),
		DBPassword:    envStr("DB_PASSWORD", ""),
		DBMaxConns:    envInt("DB_MAX_CONNS", 10),
		AutoMigrate:   envBool("AUTO_MIGRATE", true),
		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		// Logging
		LogLevel:  envStr("LOG_LEVEL", envStr("RUST_LOG", "info")),
		LogFormat: envStr("LOG_FORMAT", "text"),
		LogFile:   envStr("LOG_FILE", ""),

		// API
		APIPort:           envInt("API_PORT", 3000),
		CORSAllowOrigin:   envStr("CORS_ALLOW_ORIGIN", "*"),
		LatestPricesLimit: envInt("LATEST_PRICES_LIMIT", 100),
		MaxPricesLimit:    envInt("MAX_PRICES_LIMIT", 1000),

		// Price source
		REEBaseURL:           envStr("REE_BASE_URL", "https://apidatos.ree.es/es/datos"),
		REETimeoutSeconds:    envInt("REE_TIMEOUT_SECONDS", 15),
		MalformedValuePolicy: strings.ToLower(envStr("MALFORMED_VALUE_POLICY", "zero")),

		// Timing
		IngestIntervalSeconds:     envInt("INGEST_INTERVAL_SECONDS", 60),
		IngestCycleTimeoutSeconds: envInt("INGEST_CYCLE_TIMEOUT_SECONDS", 45),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	switch c.StoreBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be postgres, redis or memory, got %q", c.StoreBackend))
	}
	if c.StoreBackend == BackendRedis && c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required for the redis backend")
	}
	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" && c.DBName == "" {
		errs = append(errs, "DATABASE_URL or DB_NAME is required for the postgres backend")
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT out of range: %d", c.APIPort))
	}
	if c.MaxPricesLimit <= 0 {
		errs = append(errs, "MAX_PRICES_LIMIT must be positive")
	}
	if c.LatestPricesLimit <= 0 || c.LatestPricesLimit > c.MaxPricesLimit {
		errs = append(errs, fmt.Sprintf("LATEST_PRICES_LIMIT must be between 1 and %d", c.MaxPricesLimit))
	}
	if _, err := url.ParseRequestURI(c.REEBaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("REE_BASE_URL is not a URL: %v", err))
	}
	if c.REETimeoutSeconds <= 0 {
		errs = append(errs, "REE_TIMEOUT_SECONDS must be positive")
	}
	if c.MalformedValuePolicy != "zero" && c.MalformedValuePolicy != "drop" {
		errs = append(errs, fmt.Sprintf("MALFORMED_VALUE_POLICY must be zero or drop, got %q", c.MalformedValuePolicy))
	}
	if c.IngestIntervalSeconds <= 0 {
		errs = append(errs, "INGEST_INTERVAL_SECONDS must be positive")
	}
	if c.IngestCycleTimeoutSeconds <= 0 {
		errs = append(errs, "INGEST_CYCLE_TIMEOUT_SECONDS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Print logs the effective configuration without secrets.
func (c *Config) Print(logger *slog.Logger) {
	attrs := []any{
		"store_backend", c.StoreBackend,
		"api_port", c.APIPort,
		"latest_prices_limit", c.LatestPricesLimit,
		"ree_base_url", c.REEBaseURL,
		"ree_timeout", c.REETimeout(),
		"malformed_value_policy", c.MalformedValuePolicy,
		"ingest_interval", c.IngestInterval(),
		"ingest_cycle_timeout", c.IngestCycleTimeout(),
	}
	switch c.StoreBackend {
	case BackendPostgres:
		attrs = append(attrs, "db", redactDSN(c.DSN()), "db_max_conns", c.DBMaxConns, "auto_migrate", c.AutoMigrate)
	case BackendRedis:
		attrs = append(attrs, "redis_addr", c.RedisAddr, "redis_db", c.RedisDB)
	}
	if c.IngestCycleTimeoutSeconds > c.IngestIntervalSeconds {
		logger.Warn("cycle timeout exceeds ingest interval; late ticks will be skipped",
			"cycle_timeout", c.IngestCycleTimeout(), "interval", c.IngestInterval())
	}
	logger.Info("configuration", attrs...)
}

// DSN returns DATABASE_URL, or a URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	if c.DBPassword == "" {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

func (c *Config) REETimeout() time.Duration {
	return time.Duration(c.REETimeoutSeconds) * time.Second
}

func (c *Config) IngestInterval() time.Duration {
	return time.Duration(c.IngestIntervalSeconds) * time.Second
}

func (c *Config) IngestCycleTimeout() time.Duration {
	return time.Duration(c.IngestCycleTimeoutSeconds) * time.Second
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
