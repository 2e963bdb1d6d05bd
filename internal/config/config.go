package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vendor wire policy bounds. Values outside these ranges clamp; they never
// fail at runtime.
const (
	MaxPageSize     = 30
	MinCallInterval = 1 * time.Second
	MaxCallInterval = 10 * time.Second
	MinCallTimeout  = 10 * time.Second
	MaxCallTimeout  = 120 * time.Second
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	HTTPAddr  string
	RedisAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Vendor    VendorConfig
	Scheduler SchedulerConfig
}

// VendorConfig carries the process-wide defaults for vendor calls. Tenants
// may override the call interval; overrides clamp to the same bounds.
type VendorConfig struct {
	BaseURL      string
	PageSize     int
	CallInterval time.Duration
	Timeout      time.Duration
	RetryCount   int
}

type SchedulerConfig struct {
	WorkerPool       int
	TickInterval     time.Duration
	AutoSyncEnabled  bool
	DefaultCron      string
	DefaultTimezone  string
	DefaultGraceSecs int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "erpsync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		RedisAddr: strings.TrimSpace(getenv("REDIS_ADDR", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "erpsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Vendor: VendorConfig{
			BaseURL:      getenv("VENDOR_BASE_URL", ""),
			PageSize:     getenvInt("VENDOR_PAGE_SIZE", MaxPageSize),
			CallInterval: time.Duration(getenvInt("VENDOR_CALL_INTERVAL_SECS", 3)) * time.Second,
			Timeout:      time.Duration(getenvInt("VENDOR_TIMEOUT_SECS", 30)) * time.Second,
			RetryCount:   getenvInt("VENDOR_RETRY_COUNT", 3),
		},
		Scheduler: SchedulerConfig{
			WorkerPool:       getenvInt("SCHEDULER_WORKER_POOL", 20),
			TickInterval:     time.Duration(getenvInt("SCHEDULER_TICK_SECS", 1)) * time.Second,
			AutoSyncEnabled:  getenvBool("AUTO_SYNC_ENABLED", true),
			DefaultCron:      getenv("SYNC_SCHEDULE_DAILY", "0 2 * * *"),
			DefaultTimezone:  getenv("SYNC_TIMEZONE", "Asia/Seoul"),
			DefaultGraceSecs: getenvInt("SYNC_GRACE_PERIOD_SECS", 300),
		},
	}

	cfg.Vendor = cfg.Vendor.WithBounds()
	return cfg
}

// WithBounds clamps vendor wire settings to their allowed ranges.
func (v VendorConfig) WithBounds() VendorConfig {
	if v.PageSize <= 0 || v.PageSize > MaxPageSize {
		v.PageSize = MaxPageSize
	}
	if v.CallInterval < MinCallInterval {
		v.CallInterval = MinCallInterval
	}
	if v.CallInterval > MaxCallInterval {
		v.CallInterval = MaxCallInterval
	}
	if v.Timeout < MinCallTimeout {
		v.Timeout = MinCallTimeout
	}
	if v.Timeout > MaxCallTimeout {
		v.Timeout = MaxCallTimeout
	}
	if v.RetryCount < 0 {
		v.RetryCount = 0
	}
	return v
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
