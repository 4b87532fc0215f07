package bootstrap

import (
	"context"
	"time"

	"subsidypay/internal/config"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
)

// InitObservability builds logging, metrics and tracing from cfg and installs
// the resulting logger as the process default. The observability yaml file
// supplies metrics and tracing settings; log level and format from cfg win
// over the file.
func InitObservability(cfg config.Config, version string) (*observability.Observability, func(), error) {
	obsConfig, err := observability.LoadConfig(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Logging.Level != "" {
		obsConfig.Logging.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		obsConfig.Logging.Format = cfg.Logging.Format
	}
	if version != "" {
		obsConfig.Tracing.ServiceVersion = version
	}

	obs := observability.New(obsConfig)
	logging.SetDefault(obs.Logger)
	logger := logging.NewComponentLogger("Observability")

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			logger.Warn("Observability shutdown error: %v", err)
		}
	}
	return obs, cleanup, nil
}
