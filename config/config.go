package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Upstream UpstreamConfig
	Sync     SyncConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing settings for the service API.
type JWTConfig struct {
	Secret      string
	ServiceKey  string // shared key exchanged for a token at POST /auth/token
	ExpireHours int
}

// UpstreamConfig holds the webinar provider API settings.
type UpstreamConfig struct {
	BaseURL        string
	StaticToken    string
	PageSize       int
	RequestTimeout int // seconds
}

// SyncConfig tunes the reconciliation pipeline.
type SyncConfig struct {
	LookbackDays       int      // initial sync window into the past
	LookaheadDays      int      // initial sync window into the future
	IncrementalDays    int      // incremental sync window, past and future
	MaxPages           int      // pagination safety ceiling per query
	BatchSize          int      // reconciler upsert batch size
	Parallelism        int      // concurrent webinar units
	WebinarTimeoutSec  int      // per-webinar sync deadline
	StepTimeoutSec     int      // fetch/baseline/verify deadline
	OverallTimeoutMin  int      // whole-run ceiling
	HeartbeatSec       int      // progress heartbeat interval
	StaleRunMin        int      // no heartbeat for this long = stuck run
	MaxRetryAttempts   int
	RetryBaseDelayMS   int
	RetryMaxDelayMS    int
	ExcludedWebinarIDs []string // provider ids skipped by fetch and reconcile
	UseQueue           bool     // enqueue runs to Redis for cmd/worker; false = in-process
}

// AWSConfig holds credentials and the bucket for run report archival.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ReportsBucket   string
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/webinar_sync?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "webinar_sync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ServiceKey:  getEnv("SERVICE_API_KEY", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnv("UPSTREAM_BASE_URL", "https://api.example.com/v2"),
			StaticToken:    getEnv("UPSTREAM_TOKEN", ""),
			PageSize:       getEnvInt("UPSTREAM_PAGE_SIZE", 300),
			RequestTimeout: getEnvInt("UPSTREAM_TIMEOUT_SEC", 30),
		},
		Sync: SyncConfig{
			LookbackDays:       getEnvInt("SYNC_LOOKBACK_DAYS", 365),
			LookaheadDays:      getEnvInt("SYNC_LOOKAHEAD_DAYS", 90),
			IncrementalDays:    getEnvInt("SYNC_INCREMENTAL_DAYS", 14),
			MaxPages:           getEnvInt("SYNC_MAX_PAGES", 50),
			BatchSize:          getEnvInt("SYNC_BATCH_SIZE", 100),
			Parallelism:        getEnvInt("SYNC_PARALLELISM", 5),
			WebinarTimeoutSec:  getEnvInt("SYNC_WEBINAR_TIMEOUT_SEC", 120),
			StepTimeoutSec:     getEnvInt("SYNC_STEP_TIMEOUT_SEC", 180),
			OverallTimeoutMin:  getEnvInt("SYNC_OVERALL_TIMEOUT_MIN", 40),
			HeartbeatSec:       getEnvInt("SYNC_HEARTBEAT_SEC", 30),
			StaleRunMin:        getEnvInt("SYNC_STALE_RUN_MIN", 30),
			MaxRetryAttempts:   getEnvInt("SYNC_MAX_RETRY_ATTEMPTS", 5),
			RetryBaseDelayMS:   getEnvInt("SYNC_RETRY_BASE_DELAY_MS", 1000),
			RetryMaxDelayMS:    getEnvInt("SYNC_RETRY_MAX_DELAY_MS", 8000),
			ExcludedWebinarIDs: splitTrim(getEnv("SYNC_EXCLUDED_WEBINAR_IDS", ""), ","),
			UseQueue:           getEnv("SYNC_USE_QUEUE", "true") == "true",
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReportsBucket:   getEnv("AWS_S3_REPORTS_BUCKET", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
