package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"ergon.app/erp/core/db"
)

type Config struct {
	OTel        OTelConfig
	Worker      WorkerConfig
	Scheduler   SchedulerConfig
	Approval    ApprovalConfig
	Redis       RedisConfig
	Env         string
	Port        string
	AdminAPIKey string
	MetricsAddr string
	NodeID      int64
	MaxPageSize int
	DB          db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type WorkerConfig struct {
	ID           string
	Count        int
	PollInterval time.Duration
	BatchSize    int
}

// SchedulerConfig holds the job defaults applied when a submit call leaves them unset.
type SchedulerConfig struct {
	LockStaleAfter    time.Duration
	DefaultRetryDelay time.Duration
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	TriggerCron       string
}

type ApprovalConfig struct {
	EscalationCron    string
	ApproachingWindow time.Duration
}

// RedisConfig configures the optional wake-up channel between submitters and workers.
// An empty URL disables it and workers fall back to polling.
type RedisConfig struct {
	URL         string
	WakeChannel string
}

type ServiceType string

const (
	ServiceTypeServer  ServiceType = "server"
	ServiceTypeWorker  ServiceType = "worker"
	ServiceTypeMigrate ServiceType = "migrate"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the API server
//   - .env.worker for the background worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("ERP_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	hostname, _ := os.Hostname()

	cfg := Config{
		Env:         getEnv("ERP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		NodeID:      int64(getEnvInt("SNOWFLAKE_NODE_ID", defaultNodeID(serviceType))),
		MaxPageSize: getEnvInt("MAX_PAGE_SIZE", 200),
		DB: db.Config{
			Driver:   getEnv("DATABASE_DRIVER", db.DriverSQLite),
			DSN:      getEnv("DATABASE_URL", "file:erp.db"),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "erp-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Worker: WorkerConfig{
			ID:           getEnv("WORKER_ID", fmt.Sprintf("%s-%d", hostname, os.Getpid())),
			Count:        getEnvInt("WORKER_COUNT", 4),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("WORKER_BATCH_SIZE", 50),
		},
		Scheduler: SchedulerConfig{
			LockStaleAfter:    getEnvDuration("JOB_LOCK_STALE_AFTER", 10*time.Minute),
			DefaultRetryDelay: getEnvDuration("JOB_DEFAULT_RETRY_DELAY", 60*time.Second),
			DefaultTimeout:    getEnvDuration("JOB_DEFAULT_TIMEOUT", 300*time.Second),
			DefaultMaxRetries: getEnvInt("JOB_DEFAULT_MAX_RETRIES", 3),
			TriggerCron:       getEnv("SCHEDULE_TRIGGER_CRON", "0 * * * * *"),
		},
		Approval: ApprovalConfig{
			EscalationCron:    getEnv("APPROVAL_ESCALATION_CRON", "0 */15 * * * *"),
			ApproachingWindow: getEnvDuration("APPROVAL_APPROACHING_WINDOW", 24*time.Hour),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			WakeChannel: getEnv("REDIS_WAKE_CHANNEL", "erp:jobs:wake"),
		},
	}

	if cfg.MaxPageSize < 1 || cfg.MaxPageSize > 200 {
		return Config{}, fmt.Errorf("MAX_PAGE_SIZE must be between 1 and 200, got %d", cfg.MaxPageSize)
	}

	if cfg.Scheduler.LockStaleAfter <= 0 {
		return Config{}, fmt.Errorf("JOB_LOCK_STALE_AFTER must be positive")
	}

	if cfg.DB.Driver != db.DriverSQLite && cfg.DB.Driver != db.DriverPostgres {
		return Config{}, fmt.Errorf("DATABASE_DRIVER must be %q or %q", db.DriverSQLite, db.DriverPostgres)
	}

	if serviceType == ServiceTypeWorker && cfg.Worker.Count < 1 {
		return Config{}, fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func defaultNodeID(serviceType ServiceType) int {
	switch serviceType {
	case ServiceTypeWorker:
		return 2
	case ServiceTypeMigrate:
		return 3
	default:
		return 1
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "10m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
