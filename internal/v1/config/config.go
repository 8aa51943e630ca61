package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Storage backend selectors accepted in STORAGE_TYPE.
const (
	StorageTypeMemory     = "memory"
	StorageTypeFilesystem = "filesystem"
	StorageTypeSQLite     = "sqlite"
	StorageTypeRedis      = "redis"
)

// Config holds validated environment configuration
type Config struct {
	// Storage backend selection
	StorageType      string
	DataSourceName   string
	LocalStoragePath string
	RedisAddr        string
	RedisPassword    string

	// Server
	Port           string
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Rate Limits
	RateLimitAPIGlobal string
	RateLimitAPIRooms  string
	RateLimitWsIP      string

	// Tracing (enabled when set)
	OTelCollectorAddr string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error listing every invalid or missing variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: STORAGE_TYPE (defaults to "memory")
	cfg.StorageType = getEnvOrDefault("STORAGE_TYPE", StorageTypeMemory)
	switch cfg.StorageType {
	case StorageTypeMemory:
	case StorageTypeFilesystem:
		cfg.LocalStoragePath = os.Getenv("LOCAL_STORAGE_PATH")
		if cfg.LocalStoragePath == "" {
			errors = append(errors, "LOCAL_STORAGE_PATH is required when STORAGE_TYPE=filesystem")
		}
	case StorageTypeSQLite:
		cfg.DataSourceName = os.Getenv("DATA_SOURCE_NAME")
		if cfg.DataSourceName == "" {
			errors = append(errors, "DATA_SOURCE_NAME is required when STORAGE_TYPE=sqlite")
		}
	case StorageTypeRedis:
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	default:
		errors = append(errors, fmt.Sprintf("STORAGE_TYPE must be one of memory, filesystem, sqlite, redis (got '%s')", cfg.StorageType))
	}

	// Optional: PORT (defaults to 3002, must be a valid port number)
	cfg.Port = getEnvOrDefault("PORT", "3002")
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of debug, info, warn, error (got '%s')", cfg.LogLevel))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: ALLOWED_ORIGINS (empty means allow all)
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "300-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled when unset)
	cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"storage_type", cfg.StorageType,
		"data_source_name", cfg.DataSourceName,
		"local_storage_path", cfg.LocalStoragePath,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"allowed_origins", cfg.AllowedOrigins,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
