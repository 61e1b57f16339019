package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTPAddr    string
	LogLevel    slog.Level

	DatabaseDriver string
	DatabaseDSN    string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CarrierSecret       string
	CarrierCookieName   string
	CarrierCookieMaxAge time.Duration
	CarrierCookieSecure bool

	SessionTTL            time.Duration
	MaxAccountsPerSession int
	TokenRefreshSkew      time.Duration
	ProviderTimeout       time.Duration

	APIRateLimitRPM  int
	AuthRateLimitRPM int
	CORSOrigins      []string

	ShutdownTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present (development convenience).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: envString("APP_ENV", "development"),
		HTTPAddr:    envString("HTTP_ADDR", ":8080"),
		LogLevel:    parseLogLevel(envString("LOG_LEVEL", "info")),

		DatabaseDriver: envString("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:    envString("DATABASE_DSN", ""),

		RedisEnabled:  envBool("REDIS_ENABLED", false),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		GoogleClientID:     envString("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envString("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  envString("GOOGLE_REDIRECT_URL", ""),

		CarrierSecret:       envString("CARRIER_SECRET", ""),
		CarrierCookieName:   envString("CARRIER_COOKIE_NAME", "wd_session"),
		CarrierCookieMaxAge: envDuration("CARRIER_COOKIE_MAX_AGE", 720*time.Hour),
		CarrierCookieSecure: envBool("CARRIER_COOKIE_SECURE", true),

		SessionTTL:            envDuration("SESSION_TTL", 168*time.Hour),
		MaxAccountsPerSession: envInt("MAX_ACCOUNTS_PER_SESSION", 20),
		TokenRefreshSkew:      envDuration("TOKEN_REFRESH_SKEW", 2*time.Minute),
		ProviderTimeout:       envDuration("PROVIDER_TIMEOUT", 10*time.Second),

		APIRateLimitRPM:  envInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM: envInt("AUTH_RATE_LIMIT_RPM", 30),
		CORSOrigins:      envList("CORS_ORIGINS", nil),

		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		OTELServiceName:           envString("OTEL_SERVICE_NAME", "account-session-service"),
		OTELEnvironment:           envString("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        envBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         envBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           envBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: envDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if len(c.CarrierSecret) < 32 {
		errs = append(errs, errors.New("CARRIER_SECRET must be at least 32 bytes"))
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleRedirectURL == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required"))
	}
	if c.MaxAccountsPerSession <= 0 {
		errs = append(errs, errors.New("MAX_ACCOUNTS_PER_SESSION must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.TokenRefreshSkew < 0 {
		errs = append(errs, errors.New("TOKEN_REFRESH_SKEW must not be negative"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool { return c.Environment == "production" }

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
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
