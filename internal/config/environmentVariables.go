package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	TRACE_ID_KEY = "traceId"

	RATE_LIMIT_PER_SECOND       = 2
	BURST_RATE_LIMIT_PER_SECOND = 5

	MaxWorkerCount            int64 = 10
	MinWorkerCount            int64 = 1
	RequestsPerNewWorkerCount int64 = 10
	IdleWorkerTimeout               = 1 * time.Minute

	// event buffer between the transport and the coordinator
	BufferLimit = 100

	// ops server timeouts
	ReadTimeout            = 5 * time.Second
	WriteTimeout           = 10 * time.Second
	IdleTimeout            = 120 * time.Second
	ShutdownContextTimeout = 10 * time.Second

	// per-page guard inside the PDF extractor
	PageExtractTimeout = 10 * time.Second

	// pooled client for the chat platform API and file downloads
	MaxIdleConns        = 100
	MaxIdleConnsPerHost = 10
	IdleConnTimeout     = 90 * time.Second
	FileDownloadTimeout = 60 * time.Second

	// user-supplied job profile text
	MaxProfileChars = 5000

	// raw documents are only kept long enough for one re-extraction
	RawDocumentTTL = 1 * time.Hour

	// how often stuck sessions are swept into SessionTimeout
	WatchdogSweepInterval = 30 * time.Second

	RedisRawDocumentDB = 0
)

type Config struct {
	Prod     bool
	LogLevel string

	TelegramToken string

	// scoring service
	ScoringProvider     string // "deepseek" or "gemini"
	ScoringAPIKey       string
	ScoringBaseURL      string
	ScoringModel        string
	ScoringTimeout      time.Duration
	ScoringMaxAttempts  int
	ScoringBaseDelay    time.Duration
	ScoringMaxDelay     time.Duration
	ScoringConcurrency  int
	ScoringQueueTimeout time.Duration

	// pipeline
	MaxFileSize        int64
	MaxExtractAttempts int
	SessionTimeout     time.Duration
	DefaultJobProfile  string

	// stores
	DatabaseFile  string
	MigrationsDir string
	RedisAddr     string
	RedisPassword string

	// ops server
	OpsListenAddr string
	OpsAuthToken  string
}

func Load() (*Config, error) {
	// missing .env is fine, the environment itself still applies
	_ = godotenv.Load()

	cfg := &Config{
		Prod:     getEnv("GO_ENV", "development") == "production",
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		ScoringProvider:     getEnv("SCORING_PROVIDER", "deepseek"),
		ScoringAPIKey:       getEnv("SCORING_API_KEY", os.Getenv("DEEPSEEK_API_KEY")),
		ScoringBaseURL:      getEnv("SCORING_BASE_URL", "https://api.deepseek.com/v1"),
		ScoringModel:        getEnv("SCORING_MODEL", "deepseek-chat"),
		ScoringTimeout:      getEnvAsDuration("SCORING_TIMEOUT", 30*time.Second),
		ScoringMaxAttempts:  getEnvAsInt("SCORING_MAX_ATTEMPTS", 4),
		ScoringBaseDelay:    getEnvAsDuration("SCORING_BASE_DELAY", 500*time.Millisecond),
		ScoringMaxDelay:     getEnvAsDuration("SCORING_MAX_DELAY", 8*time.Second),
		ScoringConcurrency:  getEnvAsInt("SCORING_CONCURRENCY", 4),
		ScoringQueueTimeout: getEnvAsDuration("SCORING_QUEUE_TIMEOUT", 15*time.Second),

		MaxFileSize:        int64(getEnvAsInt("MAX_FILE_SIZE", 5<<20)),
		MaxExtractAttempts: getEnvAsInt("MAX_EXTRACT_ATTEMPTS", 3),
		SessionTimeout:     getEnvAsDuration("SESSION_TIMEOUT", 5*time.Minute),
		DefaultJobProfile:  getEnv("DEFAULT_JOB_PROFILE", ""),

		DatabaseFile:  getEnv("DATABASE_FILE", "data/aihr.db"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "internal/data/sessionStore/migrations"),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		OpsListenAddr: getEnv("OPS_LISTEN_ADDR", ":3000"),
		OpsAuthToken:  getEnv("OPS_AUTH_TOKEN", ""),
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.ScoringAPIKey == "" {
		return nil, fmt.Errorf("SCORING_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
