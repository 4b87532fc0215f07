// Package config loads gateway settings from flags, a config file, .env
// files and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved gateway configuration.
type Config struct {
	Backend       BackendConfig
	Auth          AuthConfig
	Server        ServerConfig
	Session       SessionConfig
	Logging       LoggingConfig
	Observability string
}

// BackendConfig locates the campaign backend.
type BackendConfig struct {
	URL              string
	APIKey           string
	Timeout          time.Duration
	MaxResponseBytes int64
	CircuitBreaker   bool
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled              bool
	EnforceScopes        bool
	Domain               string
	Audience             string
	EmailClaim           string
	JWKSCacheTTL         time.Duration
	JWKSFetchesPerMinute int
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int
	PublicURL      string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// SessionConfig configures session minting.
type SessionConfig struct {
	Region        string
	FallbackEmail string
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// DefaultAllowedOrigins are the agent hosts that embed the tools.
var DefaultAllowedOrigins = []string{
	"https://chatgpt.com",
	"https://chat.openai.com",
	"https://cdn.oaistatic.com",
	"https://web-sandbox.oaiusercontent.com",
}

// envBindings maps config keys to environment variables, most specific first.
var envBindings = map[string][]string{
	"backend.url":                  {"BACKEND_URL", "RUST_BACKEND_URL"},
	"backend.api_key":              {"MCP_INTERNAL_API_KEY"},
	"backend.timeout_ms":           {"BACKEND_TIMEOUT_MS"},
	"backend.max_response_bytes":   {"BACKEND_MAX_RESPONSE_BYTES"},
	"backend.circuit_breaker":      {"BACKEND_CIRCUIT_BREAKER"},
	"auth.enabled":                 {"AUTH_ENABLED"},
	"auth.enforce_scopes":          {"AUTH_ENFORCE_SCOPES"},
	"auth.domain":                  {"AUTH0_DOMAIN"},
	"auth.audience":                {"AUTH0_AUDIENCE"},
	"auth.email_claim":             {"AUTH_EMAIL_CLAIM"},
	"auth.jwks_cache_ttl":          {"JWKS_CACHE_TTL"},
	"auth.jwks_fetches_per_minute": {"JWKS_FETCHES_PER_MINUTE"},
	"server.port":                  {"PORT"},
	"server.public_url":            {"PUBLIC_URL"},
	"server.allowed_origins":       {"CORS_ALLOWED_ORIGINS"},
	"server.rate_limit_rps":        {"RATE_LIMIT_RPS"},
	"server.rate_limit_burst":      {"RATE_LIMIT_BURST"},
	"session.region":               {"SESSION_REGION"},
	"session.fallback_email":       {"SESSION_FALLBACK_EMAIL"},
	"logging.level":                {"LOG_LEVEL"},
	"logging.format":               {"LOG_FORMAT"},
	"observability_config":         {"OBSERVABILITY_CONFIG"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:3000")
	v.SetDefault("backend.timeout_ms", 15000)
	v.SetDefault("backend.max_response_bytes", 4<<20)
	v.SetDefault("auth.jwks_cache_ttl", "10m")
	v.SetDefault("auth.jwks_fetches_per_minute", 10)
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.public_url", "http://localhost:3001")
	v.SetDefault("server.allowed_origins", DefaultAllowedOrigins)
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("session.region", "auto")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// BindEnv binds every config key to its environment variables.
func BindEnv(v *viper.Viper) error {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load resolves Config from v. When configFile is set it is read first;
// environment variables override file values.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Backend: BackendConfig{
			URL:              strings.TrimSpace(v.GetString("backend.url")),
			APIKey:           strings.TrimSpace(v.GetString("backend.api_key")),
			Timeout:          positiveMillis(v.GetInt("backend.timeout_ms"), 15*time.Second),
			MaxResponseBytes: v.GetInt64("backend.max_response_bytes"),
			CircuitBreaker:   v.GetBool("backend.circuit_breaker"),
		},
		Auth: AuthConfig{
			EnforceScopes:        v.GetBool("auth.enforce_scopes"),
			Domain:               strings.TrimSpace(v.GetString("auth.domain")),
			Audience:             strings.TrimSpace(v.GetString("auth.audience")),
			EmailClaim:           strings.TrimSpace(v.GetString("auth.email_claim")),
			JWKSCacheTTL:         v.GetDuration("auth.jwks_cache_ttl"),
			JWKSFetchesPerMinute: v.GetInt("auth.jwks_fetches_per_minute"),
		},
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			PublicURL:      strings.TrimRight(strings.TrimSpace(v.GetString("server.public_url")), "/"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
			RateLimitRPS:   v.GetFloat64("server.rate_limit_rps"),
			RateLimitBurst: v.GetInt("server.rate_limit_burst"),
		},
		Session: SessionConfig{
			Region:        strings.TrimSpace(v.GetString("session.region")),
			FallbackEmail: strings.TrimSpace(v.GetString("session.fallback_email")),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("logging.level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("logging.format"))),
		},
		Observability: strings.TrimSpace(v.GetString("observability_config")),
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3001
	}
	cfg.Auth.Enabled = resolveAuthEnabled(v, cfg.Auth)
	return cfg, nil
}

// resolveAuthEnabled honors an explicit setting; anything except
// false/0/no enables auth. Unset, auth is on when domain and audience are.
func resolveAuthEnabled(v *viper.Viper, auth AuthConfig) bool {
	if v.IsSet("auth.enabled") {
		raw := strings.ToLower(strings.TrimSpace(v.GetString("auth.enabled")))
		switch raw {
		case "false", "0", "no":
			return false
		default:
			return true
		}
	}
	return auth.Domain != "" && auth.Audience != ""
}

// Validate reports every missing or malformed value.
func (c Config) Validate() error {
	var errs []error
	if err := validateURL("backend.url", c.Backend.URL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("server.public_url", c.Server.PublicURL); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Enabled {
		if c.Auth.Domain == "" {
			errs = append(errs, errors.New("auth.domain (AUTH0_DOMAIN) is required when auth is enabled"))
		}
		if c.Auth.Audience == "" {
			errs = append(errs, errors.New("auth.audience (AUTH0_AUDIENCE) is required when auth is enabled"))
		}
	}
	if c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) url, got %q", key, raw)
	}
	return nil
}

func positiveMillis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// splitList accepts both list values and a single comma separated string.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
