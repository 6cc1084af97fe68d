package config

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IMPORT_WORKERS", "0")
	t.Setenv("MAX_UPLOAD_SIZE_BYTES", "abc")
	t.Setenv("RATE_LIMIT_EVERY", "250ms")
	t.Setenv("ISIN_TABLE_PATH", "")

	LoadConfig()

	assert.Equal(t, "9090", Cfg.Port)
	assert.Equal(t, 1, Cfg.ImportWorkers)
	assert.Equal(t, int64(defaultMaxUploadSize), Cfg.MaxUploadSizeBytes)
	assert.Equal(t, 250*time.Millisecond, Cfg.RateLimitEvery)
	assert.Equal(t, "", Cfg.ISINTablePath)
}

func TestGetEnvAsDurationFallback(t *testing.T) {
	t.Setenv("RESULT_CACHE_EXPIRATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("RESULT_CACHE_EXPIRATION", time.Minute))
}
