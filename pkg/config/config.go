// Package config loads application configuration from the environment.
//
// A .env file is loaded first when present (development convenience); real
// deployments inject variables directly. Required secrets are validated at
// boot: a missing value aborts startup with a diagnostic naming the variable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration, immutable after Load.
type Config struct {
	// Core
	ProjectName string
	HTTPPort    string
	LogLevel    string

	// Authentication
	SecretKey                string
	AccessTokenExpireMinutes int

	// Stores
	StoreURI  string // MongoDB connection string
	StoreName string // database name
	CacheURI  string // Redis connection string
	BrokerURI string // AMQP connection string

	// HTTP cross-cutting
	AllowedOrigins []string
	RateLimit      RateLimit
	CSRFEnabled    bool

	// Domain tunables
	DefaultCurrency            string
	DuplicateSaleWindow        time.Duration
	DeliveryRetentionDays      int
	StockAllocationMaxRetries  int

	// Event plane
	ListenPatterns   []string // pub/sub patterns the broadcaster subscribes to
	PublishChannel   string   // channel for internal backend events
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Chat memory
	MemoryMaxHistory int
	MemoryTTL        time.Duration

	// Retention sweep
	CleanupInterval time.Duration

	// LLM oracle
	OracleURL     string
	OracleAPIKey  string
	OracleModel   string
	OracleTimeout time.Duration
}

// RateLimit is a parsed "count/period" expression, e.g. "500/minute".
type RateLimit struct {
	Count  int
	Period time.Duration
}

// PerSecond returns the refill rate in events per second.
func (r RateLimit) PerSecond() float64 {
	if r.Period <= 0 {
		return 0
	}
	return float64(r.Count) / r.Period.Seconds()
}

// Load reads configuration from the environment, optionally seeded from the
// .env file at envPath (ignored when absent).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Could not load .env file, continuing with existing environment",
				"path", envPath, "error", err)
		} else {
			slog.Info("Loaded environment", "path", envPath)
		}
	}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		ProjectName: getEnv("PROJECT_NAME", "agentos"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		SecretKey:                required("SECRET_KEY"),
		AccessTokenExpireMinutes: getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60),

		StoreURI:  required("STORE_URI"),
		StoreName: getEnv("STORE_NAME", "agentos"),
		CacheURI:  required("CACHE_URI"),
		BrokerURI: required("BROKER_URI"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		CSRFEnabled:    getEnvBool("CSRF_ENABLED", true),

		DefaultCurrency:           getEnv("DEFAULT_CURRENCY", "BRL"),
		DuplicateSaleWindow:       time.Duration(getEnvInt("DUPLICATE_SALE_WINDOW_MINUTES", 5)) * time.Minute,
		DeliveryRetentionDays:     getEnvInt("DELIVERY_RETENTION_DAYS", 30),
		StockAllocationMaxRetries: getEnvInt("STOCK_ALLOCATION_MAX_RETRIES", 3),

		ListenPatterns:   splitList(getEnv("LISTEN_PATTERNS", "sales.*,delivery.*,user.*")),
		PublishChannel:   getEnv("PUBLISH_CHANNEL", "backend.events"),
		ReconnectInitial: 2 * time.Second,
		ReconnectMax:     30 * time.Second,

		MemoryMaxHistory: getEnvInt("MEMORY_MAX_HISTORY", 20),
		MemoryTTL:        time.Duration(getEnvInt("MEMORY_TTL_SECONDS", 86400)) * time.Second,

		CleanupInterval: time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,

		OracleURL:     getEnv("ORACLE_URL", ""),
		OracleAPIKey:  os.Getenv("ORACLE_API_KEY"),
		OracleModel:   getEnv("ORACLE_MODEL", "gpt-4-turbo"),
		OracleTimeout: time.Duration(getEnvInt("ORACLE_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	rl, err := ParseRateLimit(getEnv("RATE_LIMIT", "500/minute"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}
	cfg.RateLimit = rl

	return cfg, nil
}

// ParseRateLimit parses a "count/period" expression where period is one of
// second, minute, hour.
func ParseRateLimit(s string) (RateLimit, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return RateLimit{}, fmt.Errorf("expected count/period, got %q", s)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return RateLimit{}, fmt.Errorf("invalid count in %q", s)
	}
	var period time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "second":
		period = time.Second
	case "minute":
		period = time.Minute
	case "hour":
		period = time.Hour
	default:
		return RateLimit{}, fmt.Errorf("invalid period in %q (want second, minute or hour)", s)
	}
	return RateLimit{Count: count, Period: period}, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer environment variable, using default",
			"key", key, "value", v, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
