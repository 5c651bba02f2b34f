package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Listener
	Port string

	// Shared state store
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Durable snapshot store; empty disables snapshotting entirely.
	MongoURI string

	// Room lifecycle
	InactiveTimeout         time.Duration // base eviction timeout
	MinVideoTimeout         time.Duration // floor while a video is playing
	VideoDurationMultiplier float64
	HistoryMax              int // 0 = unbounded

	// Passwords
	IsEncryptedPassword bool

	// Logging
	NodeEnv         string
	LogLevel        string
	LogToFiles      bool
	ErrorLogPath    string
	CombinedLogPath string

	// HTTP surface
	AllowedOrigins string
	RateLimit      string // ulule/limiter formatted rate, e.g. "20-S"
}

// Production reports whether the process runs with production log formatting.
func (c *Config) Production() bool {
	return c.NodeEnv == "production"
}

// RedisAddr returns the host:port pair for the shared state store.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// ValidateEnv validates all recognized environment variables and returns a
// Config. All problems are collected and reported together.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisHost = getEnvOrDefault("REDIS_HOST", "localhost")
	cfg.RedisPort = getEnvOrDefault("REDIS_PORT", "6379")
	if port, err := strconv.Atoi(cfg.RedisPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be a valid port number (got '%s')", cfg.RedisPort))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: snapshotting is skipped when unset.
	cfg.MongoURI = os.Getenv("MONGODB_URI")

	inactiveSecs, err := envInt("INACTIVE_TIMEOUT", 300)
	if err != nil {
		errs = append(errs, err.Error())
	} else if inactiveSecs < 1 {
		errs = append(errs, fmt.Sprintf("INACTIVE_TIMEOUT must be positive (got %d)", inactiveSecs))
	}
	cfg.InactiveTimeout = time.Duration(inactiveSecs) * time.Second

	minVideoHours, err := envInt("MIN_VIDEO_TIMEOUT_HOURS", 2)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.MinVideoTimeout = time.Duration(minVideoHours) * time.Hour

	cfg.VideoDurationMultiplier = 5
	if raw, exists := os.LookupEnv("VIDEO_DURATION_MULTIPLIER"); exists {
		mult, err := strconv.ParseFloat(raw, 64)
		if err != nil || mult <= 0 {
			errs = append(errs, fmt.Sprintf("VIDEO_DURATION_MULTIPLIER must be a positive number (got '%s')", raw))
		} else {
			cfg.VideoDurationMultiplier = mult
		}
	}

	historyMax, err := envInt("HISTORY_MAX", 0)
	if err != nil {
		errs = append(errs, err.Error())
	} else if historyMax < 0 {
		errs = append(errs, fmt.Sprintf("HISTORY_MAX must not be negative (got %d)", historyMax))
	}
	cfg.HistoryMax = historyMax

	cfg.IsEncryptedPassword = os.Getenv("IS_ENCRYPTED_PASSWORD") == "true"

	cfg.NodeEnv = getEnvOrDefault("NODE_ENV", "development")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogToFiles = os.Getenv("LOG_TO_FILES") == "true"
	cfg.ErrorLogPath = getEnvOrDefault("ERROR_LOG_PATH", "logs/error.log")
	cfg.CombinedLogPath = getEnvOrDefault("COMBINED_LOG_PATH", "logs/combined.log")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.RateLimit = getEnvOrDefault("RATE_LIMIT", "20-S")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got '%s')", key, raw)
	}
	return v, nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr(),
		"redis_password", redactSecret(cfg.RedisPassword),
		"mongodb", cfg.MongoURI != "",
		"inactive_timeout", cfg.InactiveTimeout.String(),
		"min_video_timeout", cfg.MinVideoTimeout.String(),
		"video_duration_multiplier", cfg.VideoDurationMultiplier,
		"encrypted_passwords", cfg.IsEncryptedPassword,
		"node_env", cfg.NodeEnv,
		"log_level", cfg.LogLevel,
		"rate_limit", cfg.RateLimit,
	)
}

// redactSecret redacts a secret, showing only whether one was provided.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
