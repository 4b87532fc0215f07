package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEnv = []string{
	"BACKEND_URL", "RUST_BACKEND_URL", "MCP_INTERNAL_API_KEY", "BACKEND_TIMEOUT_MS",
	"AUTH_ENABLED", "AUTH0_DOMAIN", "AUTH0_AUDIENCE", "PORT", "PUBLIC_URL",
	"CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "BACKEND_CIRCUIT_BREAKER", "AUTH_ENFORCE_SCOPES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allEnv {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.Backend.URL)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "http://localhost:3001", cfg.Server.PublicURL)
	assert.Equal(t, DefaultAllowedOrigins, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Minute, cfg.Auth.JWKSCacheTTL)
	assert.False(t, cfg.Backend.CircuitBreaker)
	assert.False(t, cfg.Auth.EnforceScopes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOptInGuards(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_CIRCUIT_BREAKER", "true")
	t.Setenv("AUTH_ENFORCE_SCOPES", "1")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.True(t, cfg.Backend.CircuitBreaker)
	assert.True(t, cfg.Auth.EnforceScopes)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("RUST_BACKEND_URL", "http://legacy:3000")
	t.Setenv("MCP_INTERNAL_API_KEY", "secret")
	t.Setenv("BACKEND_TIMEOUT_MS", "2500")
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_AUDIENCE", "https://api.example.com")
	t.Setenv("PORT", "8080")
	t.Setenv("PUBLIC_URL", "https://mcp.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:3000", cfg.Backend.URL)
	assert.Equal(t, "secret", cfg.Backend.APIKey)
	assert.Equal(t, 2500*time.Millisecond, cfg.Backend.Timeout)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://mcp.example.com", cfg.Server.PublicURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestBackendURLPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("RUST_BACKEND_URL", "http://legacy:3000")
	t.Setenv("BACKEND_URL", "http://primary:3000")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://primary:3000", cfg.Backend.URL)
}

func TestAuthEnabledResolution(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		set      bool
		domain   string
		want     bool
	}{
		{name: "implicit on", domain: "tenant.example.com", want: true},
		{name: "implicit off without domain", want: false},
		{name: "explicit false", explicit: "false", set: true, domain: "tenant.example.com", want: false},
		{name: "explicit zero", explicit: "0", set: true, domain: "tenant.example.com", want: false},
		{name: "explicit No", explicit: "No", set: true, domain: "tenant.example.com", want: false},
		{name: "explicit true without domain", explicit: "true", set: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.set {
				t.Setenv("AUTH_ENABLED", tt.explicit)
			}
			if tt.domain != "" {
				t.Setenv("AUTH0_DOMAIN", tt.domain)
				t.Setenv("AUTH0_AUDIENCE", "https://api.example.com")
			}
			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Auth.Enabled)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Config{
		Backend: BackendConfig{URL: "localhost:3000"},
		Auth:    AuthConfig{Enabled: true},
		Server:  ServerConfig{PublicURL: "", Port: 70000},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"backend.url", "server.public_url", "AUTH0_DOMAIN", "AUTH0_AUDIENCE", "out of range"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "subsidypay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://file-backend:3000
  timeout_ms: 500
server:
  port: 9000
logging:
  format: json
`), 0o644))
	t.Setenv("PORT", "9100")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://file-backend:3000", cfg.Backend.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.Timeout)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PUBLIC_URL=https://from-env-file.example.com\nLOG_LEVEL=warn\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("LOG_LEVEL=debug\nLOG_FORMAT=json\n"), 0o644))
	t.Setenv("PORT", "7000")

	require.NoError(t, LoadEnvFiles(dir))
	t.Cleanup(func() {
		_ = os.Unsetenv("PUBLIC_URL")
		_ = os.Unsetenv("LOG_LEVEL")
		_ = os.Unsetenv("LOG_FORMAT")
	})

	assert.Equal(t, "https://from-env-file.example.com", os.Getenv("PUBLIC_URL"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
	assert.Equal(t, "json", os.Getenv("LOG_FORMAT"))
	assert.Equal(t, "7000", os.Getenv("PORT"))

	assert.NoError(t, LoadEnvFiles(t.TempDir()))
}
