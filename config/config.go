// Package config loads a sendgate.Config from the environment, an optional
// .env file or a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/secret"
)

// Environment variable names.
const (
	EnvEnvironment        = "SENDGATE_ENV"
	EnvSigningSecret      = "UNSUBSCRIBE_SECRET"
	EnvRateLimitPerHour   = "RATE_LIMIT_PER_HOUR"
	EnvRateLimitWindow    = "RATE_LIMIT_WINDOW"
	EnvBusinessHoursStart = "BUSINESS_HOURS_START"
	EnvBusinessHoursEnd   = "BUSINESS_HOURS_END"
	EnvBusinessTimezone   = "BUSINESS_TIMEZONE"
	EnvVATRate            = "VAT_RATE"
	EnvProcessingFeeRate  = "PROCESSING_FEE_RATE"
	EnvTokenTTL           = "TOKEN_TTL"
	EnvTokenGrace         = "TOKEN_GRACE"
	EnvRedisURL           = "REDIS_URL"
	EnvSingleUseTokens    = "SINGLE_USE_TOKENS"
	EnvSweepInterval      = "SWEEP_INTERVAL"
	EnvLogLevel           = "LOG_LEVEL"
)

// Load reads configuration from the process environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win over it.
func Load() (sendgate.Config, error) {
	_ = godotenv.Load()

	cfg := sendgate.Config{}.WithDefaults()
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile reads configuration from a YAML file. Environment variables
// override file values.
func LoadFile(path string) (sendgate.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sendgate.Config{}, fmt.Errorf("sendgate/config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return sendgate.Config{}, fmt.Errorf("sendgate/config: parse %s: %w", path, err)
	}
	cfg, err := fc.toConfig()
	if err != nil {
		return sendgate.Config{}, fmt.Errorf("sendgate/config: %s: %w", path, err)
	}

	cfg = cfg.WithDefaults()
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cfg including the signing-secret policy.
func Validate(cfg sendgate.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := secret.Resolve(cfg.SigningSecret, cfg.Environment); err != nil {
		return err
	}
	return nil
}

// NewLogger creates a text slog logger writing to stdout at level.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps debug, info, warn and error to a slog level. Anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func applyEnv(cfg *sendgate.Config) {
	cfg.Environment = getEnv(EnvEnvironment, cfg.Environment)
	cfg.SigningSecret = getEnv(EnvSigningSecret, cfg.SigningSecret)
	cfg.RateLimitPerHour = getEnvAsInt(EnvRateLimitPerHour, cfg.RateLimitPerHour)
	cfg.RateLimitWindow = getEnvAsDuration(EnvRateLimitWindow, cfg.RateLimitWindow)
	cfg.BusinessHoursStart = getEnvAsInt(EnvBusinessHoursStart, cfg.BusinessHoursStart)
	cfg.BusinessHoursEnd = getEnvAsInt(EnvBusinessHoursEnd, cfg.BusinessHoursEnd)
	cfg.BusinessZone = getEnv(EnvBusinessTimezone, cfg.BusinessZone)
	cfg.VATRate = getEnv(EnvVATRate, cfg.VATRate)
	cfg.ProcessingFeeRate = getEnv(EnvProcessingFeeRate, cfg.ProcessingFeeRate)
	cfg.TokenTTL = getEnvAsDuration(EnvTokenTTL, cfg.TokenTTL)
	cfg.TokenGrace = getEnvAsDuration(EnvTokenGrace, cfg.TokenGrace)
	cfg.RedisURL = getEnv(EnvRedisURL, cfg.RedisURL)
	cfg.SingleUseTokens = getEnvAsBool(EnvSingleUseTokens, cfg.SingleUseTokens)
	cfg.SweepInterval = getEnvAsDuration(EnvSweepInterval, cfg.SweepInterval)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("invalid int, using default", "key", key, "default", def, "error", err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			slog.Warn("invalid duration, using default", "key", key, "default", def.String(), "error", err)
			return def
		}
		return d
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			slog.Warn("invalid bool, using default", "key", key, "default", def, "error", err)
			return def
		}
		return b
	}
	return def
}
