package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "quotaguard/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	AdminToken      string
	ShutdownTimeout time.Duration
	// TraceExporter is "none" or "stdout".
	TraceExporter string
}

// DatabaseConfig selects the SQL driver backing the event log and, optionally,
// the rate-limit windows. Driver is one of "postgres", "pgx" or "sqlite3".
type DatabaseConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event sink. No brokers means audit events
// stay in process.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// RateLimitConfig carries the enforcement knobs that differ per deployment.
type RateLimitConfig struct {
	// WindowBackend is "memory", "redis" or "sql".
	WindowBackend string
	// EventLogBackend is "memory" or "sql".
	EventLogBackend    string
	TrustedHeaders     []string
	QuotaTimezone      string
	PlatformDailyLimit int
	// FailOpen lets requests through when a backing store is down. The
	// default is fail-closed.
	FailOpen        bool
	GlobalPerSecond float64
	GlobalBurst     int
}

// Config is the full process configuration.
type Config struct {
	Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// LoadDotEnv loads .env files without overwriting variables already set.
// Missing files are not an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Debug("failed to load .env file", "path", path, "error", err)
			continue
		}
		slog.Debug("loaded environment from .env", "path", path)
	}
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Server: Server{
			Addr:            getString("QUOTAGUARD_ADDR", ":8080"),
			LogLevel:        getString("LOG_LEVEL", "info"),
			LogFormat:       getString("LOG_FORMAT", "json"),
			JWTSigningKey:   jwtSigningKey,
			JWTIssuer:       getString("JWT_ISSUER", "quotaguard"),
			JWTAudience:     getString("JWT_AUDIENCE", "quotaguard-api"),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			TraceExporter:   getString("TRACE_EXPORTER", "none"),
		},
		Database: DatabaseConfig{
			Driver:       getString("DATABASE_DRIVER", "postgres"),
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 20),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:    getList("KAFKA_BROKERS"),
			AuditTopic: getString("KAFKA_AUDIT_TOPIC", "quotaguard.audit"),
		},
		RateLimit: RateLimitConfig{
			WindowBackend:      getString("RATELIMIT_WINDOW_BACKEND", "memory"),
			EventLogBackend:    getString("RATELIMIT_EVENTLOG_BACKEND", "memory"),
			TrustedHeaders:     getListOrNil("RATELIMIT_TRUSTED_HEADERS"),
			QuotaTimezone:      getString("QUOTA_TIMEZONE", "UTC"),
			PlatformDailyLimit: getInt("QUOTA_PLATFORM_DAILY_LIMIT", 0),
			FailOpen:           os.Getenv("RATELIMIT_FAIL_OPEN") == "true",
			GlobalPerSecond:    getFloat("GLOBAL_THROTTLE_PER_SECOND", 1000),
			GlobalBurst:        getInt("GLOBAL_THROTTLE_BURST", 2000),
		},
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getList(key string) []string {
	return pstrings.SplitList(os.Getenv(key))
}

// getListOrNil distinguishes "unset" (nil, use defaults) from "set to
// nothing" (empty list, e.g. RATELIMIT_TRUSTED_HEADERS=none).
func getListOrNil(key string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(raw), "none") {
		return []string{}
	}
	return getList(key)
}
