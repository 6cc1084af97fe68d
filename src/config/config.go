package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultMaxUploadSize = 10 * 1024 * 1024

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// ISINTablePath points to a JSON identifier table. Empty means the
	// built-in table is used.
	ISINTablePath string

	ResultCacheExpiration time.Duration
	ResultCacheCleanup    time.Duration

	RateLimitEvery time.Duration
	RateLimitBurst int

	ImportWorkers int
	AllowedOrigin string
}

var Cfg *AppConfig

// LoadConfig reads .env (if present) and the environment into Cfg. The
// logger is not up yet, so problems go to the standard log.
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, relying on OS environment variables and defaults:", err)
	} else {
		log.Println(".env file loaded successfully.")
	}

	cfg := &AppConfig{
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./portfolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes: getEnvAsInt64("MAX_UPLOAD_SIZE_BYTES", defaultMaxUploadSize),
		ISINTablePath:      getEnv("ISIN_TABLE_PATH", ""),

		ResultCacheExpiration: getEnvAsDuration("RESULT_CACHE_EXPIRATION", 15*time.Minute),
		ResultCacheCleanup:    getEnvAsDuration("RESULT_CACHE_CLEANUP", 30*time.Minute),

		RateLimitEvery: getEnvAsDuration("RATE_LIMIT_EVERY", 100*time.Millisecond),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 30),

		ImportWorkers: getEnvAsInt("IMPORT_WORKERS", 4),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:3000"),
	}
	cfg.clamp()
	Cfg = cfg

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ISINTable=%q, Workers=%d, MaxUpload=%d",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ISINTablePath, Cfg.ImportWorkers, Cfg.MaxUploadSizeBytes)
}

// clamp replaces values that would break the server with defaults.
func (c *AppConfig) clamp() {
	if c.MaxUploadSizeBytes <= 0 {
		log.Printf("WARNING: MAX_UPLOAD_SIZE_BYTES must be positive, got %d. Using 10MB.", c.MaxUploadSizeBytes)
		c.MaxUploadSizeBytes = defaultMaxUploadSize
	}
	if c.ImportWorkers < 1 {
		log.Printf("WARNING: IMPORT_WORKERS must be positive, got %d. Using 1.", c.ImportWorkers)
		c.ImportWorkers = 1
	}
	if c.RateLimitBurst < 1 {
		log.Printf("WARNING: RATE_LIMIT_BURST must be positive, got %d. Using 1.", c.RateLimitBurst)
		c.RateLimitBurst = 1
	}
	if c.ResultCacheExpiration <= 0 {
		c.ResultCacheExpiration = 15 * time.Minute
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	return int(getEnvAsInt64(key, int64(fallback)))
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback)
		return fallback
	}
	return value
}
