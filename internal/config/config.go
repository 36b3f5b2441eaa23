package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/real-rm/chatrelay/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           int
	PathPrefix     string        // HTTP path prefix for all routes (default: "/chatrelay")
	JWTSecret      string        // HS256 signing secret shared with the token issuer
	AuthWindow     time.Duration // Time an unauthenticated connection may stay open
	MaxMessageSize int64         // Maximum inbound WebSocket frame size in bytes
	AllowedOrigins []string      // CORS / WebSocket origin allow-list; empty allows all
	TrustedProxies []string      // Networks whose X-Forwarded-For is trusted
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	DSN            string
	ConnectTimeout time.Duration
	StoreTimeout   time.Duration // Per-operation deadline for store calls
	RunMigrations  bool
}

// RateLimitConfig holds per-user event rate limiting configuration
type RateLimitConfig struct {
	EventsPerWindow int
	Window          time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("RELAY_PORT", constants.DefaultPort),
			PathPrefix:     getEnv("RELAY_PATH_PREFIX", constants.DefaultPathPrefix),
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AuthWindow:     getEnvAsDuration("RELAY_AUTH_WINDOW", constants.DefaultAuthWindow),
			MaxMessageSize: int64(getEnvAsInt("RELAY_MAX_MESSAGE_SIZE", constants.DefaultMaxMessageSize)),
			AllowedOrigins: getEnvAsSlice("RELAY_ALLOWED_ORIGINS", []string{}),
			TrustedProxies: getEnvAsSlice("RELAY_TRUSTED_PROXIES", splitByComma(constants.DefaultTrustedProxies)),
		},
		Database: DatabaseConfig{
			DSN:            getEnv("DATABASE_URL", constants.DefaultDatabaseDSN),
			ConnectTimeout: getEnvAsDuration("DATABASE_CONNECT_TIMEOUT", constants.DefaultStoreTimeout),
			StoreTimeout:   getEnvAsDuration("DATABASE_STORE_TIMEOUT", constants.DefaultStoreTimeout),
			RunMigrations:  getEnvAsBool("DATABASE_RUN_MIGRATIONS", true),
		},
		RateLimit: RateLimitConfig{
			EventsPerWindow: getEnvAsInt("RELAY_RATE_LIMIT", constants.DefaultRateLimit),
			Window:          getEnvAsDuration("RELAY_RATE_WINDOW", constants.DefaultRateWindow),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if c.Server.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	} else {
		// Check minimum length (32 characters for strong security)
		if len(c.Server.JWTSecret) < constants.MinJWTSecretLength {
			errs = append(errs, fmt.Errorf(
				"JWT secret must be at least %d characters (got %d). "+
					"Generate a strong secret with: openssl rand -base64 32",
				constants.MinJWTSecretLength, len(c.Server.JWTSecret)))
		}

		// Check for common weak secrets
		lowerSecret := strings.ToLower(c.Server.JWTSecret)
		for _, weak := range constants.WeakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, fmt.Errorf(
					"JWT secret appears to be weak (contains '%s'). "+
						"Use a cryptographically random secret generated with: openssl rand -base64 32",
					weak))
				break
			}
		}
	}
	if c.Server.AuthWindow <= 0 {
		errs = append(errs, errors.New("auth window must be positive"))
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.Server.PathPrefix == "" {
		errs = append(errs, errors.New("path prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("path prefix must start with '/'"))
	}

	// Validate database config
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.Database.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}

	// Validate rate limit config
	if c.RateLimit.EventsPerWindow <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	result := []string{}
	for _, v := range splitByComma(valueStr) {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}

func splitByComma(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
