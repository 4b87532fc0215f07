package bootstrap

import (
	"strings"

	"subsidypay/internal/config"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
)

// LogServerConfiguration prints a redacted snapshot of cfg.
func LogServerConfiguration(logger logging.Logger, cfg config.Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")
	logger.Info("Backend URL: %s", cfg.Backend.URL)
	if strings.TrimSpace(cfg.Backend.APIKey) != "" {
		logger.Info("Backend API Key: %s", observability.SanitizeAPIKey(cfg.Backend.APIKey))
	} else {
		logger.Info("Backend API Key: (not set)")
	}
	logger.Info("Backend Timeout: %s", cfg.Backend.Timeout)
	logger.Info("Backend Circuit Breaker: %t", cfg.Backend.CircuitBreaker)
	if cfg.Auth.Enabled {
		logger.Info("Auth: enabled (domain=%s, audience=%s)", cfg.Auth.Domain, cfg.Auth.Audience)
	} else {
		logger.Info("Auth: disabled")
	}
	if cfg.Session.FallbackEmail != "" && !cfg.Auth.Enabled {
		logger.Info("Session Fallback Email: (set)")
	}
	logger.Info("Public URL: %s", cfg.Server.PublicURL)
	logger.Info("Port: %d", cfg.Server.Port)
	logger.Info("Allowed Origins: %s", strings.Join(cfg.Server.AllowedOrigins, ", "))
	logger.Info("HTTP Rate Limit: %.2f rps (burst=%d)", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	if cfg.Observability != "" {
		logger.Info("Observability Config: %s", cfg.Observability)
	}
	logger.Info("===========================")
}
