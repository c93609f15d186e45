package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read from the environment.
// Runtime tunables (spam limits, rewards, ...) live in the settings store instead.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	TelegramToken string
	AdminIDs      []int64

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	HTTPListenAddr   string
	PublicBasePath   string
	WebAppDir        string
	WebAppURL        string
	MetricsNamespace string

	VerificationTimeout  time.Duration
	SpamMuteDuration     time.Duration
	AdminPenaltyDuration time.Duration
	AdminCacheTTL        time.Duration
	WebAppAuthMaxAge     time.Duration
	DailyResetSchedule   string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration from the environment. Call godotenv.Load first to pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    normaliseDatabaseURL(os.Getenv("DATABASE_URL")),
		DatabaseSchema: os.Getenv("DATABASE_SCHEMA"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/groupkeeper.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   os.Getenv("PUBLIC_BASE_PATH"),
		WebAppDir:        os.Getenv("WEBAPP_DIR"),
		WebAppURL:        strings.TrimSpace(os.Getenv("WEBAPP_URL")),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "groupkeeper"),

		DailyResetSchedule: getEnv("DAILY_RESET_SCHEDULE", "0 0 * * *"),
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv("HTTP_LISTEN_ADDR") == "" {
		cfg.HTTPListenAddr = ":" + port
	}

	var err error
	if cfg.AdminIDs, err = parseIDList(os.Getenv("ADMIN_IDS")); err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.RedisTLS, err = strconv.ParseBool(getEnv("REDIS_TLS", "false")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_TLS: %w", err)
	}

	durations := []struct {
		key      string
		fallback string
		dest     *time.Duration
	}{
		{"VERIFICATION_TIMEOUT", "180s", &cfg.VerificationTimeout},
		{"SPAM_MUTE_DURATION", "3m", &cfg.SpamMuteDuration},
		{"ADMIN_PENALTY_DURATION", "3m", &cfg.AdminPenaltyDuration},
		{"ADMIN_CACHE_TTL", "15m", &cfg.AdminCacheTTL},
		{"WEBAPP_AUTH_MAX_AGE", "24h", &cfg.WebAppAuthMaxAge},
	}
	for _, d := range durations {
		if *d.dest, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsAdmin reports whether id is a bot operator listed in ADMIN_IDS.
func (c *Config) IsAdmin(id int64) bool {
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.VerificationTimeout <= 0 {
		return errors.New("VERIFICATION_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Some hosting providers hand out postgres:// URLs; pgx accepts both, but keep them uniform.
func normaliseDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(raw, "postgres://")
	}
	return raw
}
