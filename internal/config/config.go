package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/lsst-ts/nightreport/internal/models"
)

// ErrInvalidConfig is returned by Validate when the service must not start.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Site identifies where this instance runs, e.g. "summit" or "base".
	SiteID string

	// Database
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	AutoMigrate       bool

	// Server
	Port               string
	PathPrefix         string
	CORSOrigins        string
	RateLimitPerMinute int
	BodyLimit          int

	// Write protection; empty disables it.
	JWTSecret string

	// Observability
	LogLevel        string
	SentryDSN       string
	AppEnv          string
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads the configuration from the environment. A .env file (ENV_FILE,
// default ".env") is loaded first if present; real environment variables win.
func Load() *Config {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", envFile, "error", err)
	}

	return &Config{
		SiteID: os.Getenv("SITE_ID"),

		DBHost:            getEnv("NIGHTREPORT_DB_HOST", "localhost"),
		DBPort:            getEnv("NIGHTREPORT_DB_PORT", "5432"),
		DBUser:            getEnv("NIGHTREPORT_DB_USER", "nightreport"),
		DBPassword:        getEnv("NIGHTREPORT_DB_PASSWORD", ""),
		DBName:            getEnv("NIGHTREPORT_DB_DATABASE", "nightreport"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: parseDuration(getEnv("DB_CONN_MAX_LIFETIME", "30m")),
		AutoMigrate:       getEnvBool("AUTO_MIGRATE", true),

		Port:               getEnv("PORT", "8080"),
		PathPrefix:         getEnv("PATH_PREFIX", "/nightreport"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		BodyLimit:          getEnvInt("BODY_LIMIT", 1024*1024),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		AppEnv:          getEnv("APP_ENV", "development"),
		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
	}
}

// Validate reports configuration the service cannot run with.
func (c *Config) Validate() error {
	if c.SiteID == "" {
		return fmt.Errorf("%w: SITE_ID environment variable is required", ErrInvalidConfig)
	}
	if utf8.RuneCountInString(c.SiteID) > models.SiteIDLen {
		return fmt.Errorf("%w: SITE_ID=%q too long; max length=%d", ErrInvalidConfig, c.SiteID, models.SiteIDLen)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: PORT=%q is not a number", ErrInvalidConfig, c.Port)
	}
	if c.PathPrefix != "" && (!strings.HasPrefix(c.PathPrefix, "/") || strings.HasSuffix(c.PathPrefix, "/")) {
		return fmt.Errorf("%w: PATH_PREFIX=%q must start with / and not end with /", ErrInvalidConfig, c.PathPrefix)
	}
	return nil
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return b
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}
