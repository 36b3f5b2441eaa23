package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/chatrelay/internal/constants"
)

const strongSecret = "x7kP9mQ2vR5tY8wB3nC6jF1hL4dG0sZe"

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			PathPrefix:     "/chatrelay",
			JWTSecret:      strongSecret,
			AuthWindow:     30 * time.Second,
			MaxMessageSize: 65536,
		},
		Database: DatabaseConfig{
			DSN:          "postgres://localhost:5432/chatrelay",
			StoreTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			EventsPerWindow: 120,
			Window:          time.Minute,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.Server.PathPrefix)
	assert.Equal(t, constants.DefaultAuthWindow, cfg.Server.AuthWindow)
	assert.Equal(t, int64(constants.DefaultMaxMessageSize), cfg.Server.MaxMessageSize)
	assert.Equal(t, constants.DefaultDatabaseDSN, cfg.Database.DSN)
	assert.Equal(t, constants.DefaultStoreTimeout, cfg.Database.StoreTimeout)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Equal(t, constants.DefaultRateLimit, cfg.RateLimit.EventsPerWindow)
	assert.Equal(t, constants.DefaultRateWindow, cfg.RateLimit.Window)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("RELAY_PATH_PREFIX", "/relay")
	t.Setenv("JWT_SECRET", strongSecret)
	t.Setenv("RELAY_AUTH_WINDOW", "45s")
	t.Setenv("RELAY_MAX_MESSAGE_SIZE", "32768")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("DATABASE_URL", "postgres://db:5432/relay")
	t.Setenv("DATABASE_RUN_MIGRATIONS", "false")
	t.Setenv("RELAY_RATE_LIMIT", "60")
	t.Setenv("RELAY_RATE_WINDOW", "30s")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/relay", cfg.Server.PathPrefix)
	assert.Equal(t, strongSecret, cfg.Server.JWTSecret)
	assert.Equal(t, 45*time.Second, cfg.Server.AuthWindow)
	assert.Equal(t, int64(32768), cfg.Server.MaxMessageSize)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://db:5432/relay", cfg.Database.DSN)
	assert.False(t, cfg.Database.RunMigrations)
	assert.Equal(t, 60, cfg.RateLimit.EventsPerWindow)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("RELAY_AUTH_WINDOW", "soon")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, constants.DefaultAuthWindow, cfg.Server.AuthWindow)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("RELAY_PORT", "eighty")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
}

func TestValidate_ValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Server.JWTSecret = ""

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret is required")
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Server.JWTSecret = "short"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestValidate_WeakJWTSecret(t *testing.T) {
	cfg := validConfig()
	// Long enough but contains a known weak token
	cfg.Server.JWTSecret = "secret" + strings.Repeat("x", 30)

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "weak")
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig()
		cfg.Server.Port = port

		err := cfg.Validate()

		require.Error(t, err, "port %d should be rejected", port)
		assert.Contains(t, err.Error(), "port")
	}
}

func TestValidate_PathPrefixMustStartWithSlash(t *testing.T) {
	cfg := validConfig()
	cfg.Server.PathPrefix = "chatrelay"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with '/'")
}

func TestValidate_AggregatesMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.JWTSecret = ""
	cfg.Database.DSN = ""
	cfg.RateLimit.EventsPerWindow = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "JWT secret")
	assert.Contains(t, err.Error(), "DSN")
	assert.Contains(t, err.Error(), "rate limit")
}

func TestValidate_NonPositiveWindows(t *testing.T) {
	cfg := validConfig()
	cfg.Server.AuthWindow = 0
	cfg.Database.StoreTimeout = 0
	cfg.RateLimit.Window = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth window")
	assert.Contains(t, err.Error(), "store timeout")
	assert.Contains(t, err.Error(), "window")
}
