package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "MONGODB_URI",
		"INACTIVE_TIMEOUT", "MIN_VIDEO_TIMEOUT_HOURS", "VIDEO_DURATION_MULTIPLIER",
		"HISTORY_MAX", "IS_ENCRYPTED_PASSWORD", "NODE_ENV", "LOG_LEVEL",
		"LOG_TO_FILES", "ERROR_LOG_PATH", "COMBINED_LOG_PATH",
		"ALLOWED_ORIGINS", "RATE_LIMIT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Empty(t, cfg.MongoURI)
	assert.Equal(t, 5*time.Minute, cfg.InactiveTimeout)
	assert.Equal(t, 2*time.Hour, cfg.MinVideoTimeout)
	assert.Equal(t, float64(5), cfg.VideoDurationMultiplier)
	assert.Equal(t, 0, cfg.HistoryMax)
	assert.False(t, cfg.IsEncryptedPassword)
	assert.False(t, cfg.Production())
	assert.Equal(t, "20-S", cfg.RateLimit)
}

func TestExplicitValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("INACTIVE_TIMEOUT", "600")
	t.Setenv("VIDEO_DURATION_MULTIPLIER", "2.5")
	t.Setenv("HISTORY_MAX", "50")
	t.Setenv("IS_ENCRYPTED_PASSWORD", "true")
	t.Setenv("NODE_ENV", "production")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
	assert.Equal(t, 10*time.Minute, cfg.InactiveTimeout)
	assert.Equal(t, 2.5, cfg.VideoDurationMultiplier)
	assert.Equal(t, 50, cfg.HistoryMax)
	assert.True(t, cfg.IsEncryptedPassword)
	assert.True(t, cfg.Production())
}

func TestValidationCollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "notaport")
	t.Setenv("REDIS_PORT", "99999")
	t.Setenv("INACTIVE_TIMEOUT", "-1")
	t.Setenv("VIDEO_DURATION_MULTIPLIER", "zero")
	t.Setenv("HISTORY_MAX", "-5")

	_, err := ValidateEnv()
	require.Error(t, err)
	for _, fragment := range []string{
		"PORT", "REDIS_PORT", "INACTIVE_TIMEOUT", "VIDEO_DURATION_MULTIPLIER", "HISTORY_MAX",
	} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestNonIntegerTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("INACTIVE_TIMEOUT", "soon")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INACTIVE_TIMEOUT")
}
