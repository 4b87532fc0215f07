package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"subsidypay/internal/async"
	"subsidypay/internal/config"
	"subsidypay/internal/logging"
	serverhttp "subsidypay/internal/server/http"
)

const shutdownTimeout = 10 * time.Second

// NewHandler builds the HTTP handler for a container.
func NewHandler(c *Container, version string) *gin.Engine {
	deps := serverhttp.RouterDeps{
		Backend:       c.Backend,
		Resolver:      c.Resolver,
		Sessions:      c.Sessions,
		AuthEnabled:   c.Config.Auth.Enabled,
		EnforceScopes: c.Config.Auth.EnforceScopes,
		Issuer:        c.Issuer(),
		PublicURL:     c.Config.Server.PublicURL,
		RateLimit: serverhttp.RateLimitConfig{
			RequestsPerSecond: c.Config.Server.RateLimitRPS,
			Burst:             c.Config.Server.RateLimitBurst,
		},
		AllowedOrigins: c.Config.Server.AllowedOrigins,
		Obs:            c.Obs,
		Logger:         logging.NewComponentLogger("Router"),
		Version:        version,
	}
	if c.Verifier != nil {
		deps.Verifier = c.Verifier
	}
	return serverhttp.NewRouter(deps)
}

// RunServer serves the gateway until ctx is cancelled, then shuts down
// gracefully.
func RunServer(ctx context.Context, cfg config.Config, version string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	obs, cleanup, err := InitObservability(cfg, version)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer cleanup()

	logger := logging.NewComponentLogger("Server")
	LogServerConfiguration(logger, cfg)

	container, err := BuildContainer(cfg, obs)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:           NewHandler(container, version),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Backend.Timeout*3 + 10*time.Second,
	}
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", server.Addr, err)
	}
	return Serve(ctx, server, listener, logger)
}

// Serve runs server on listener until ctx is done or the server fails.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := async.Run(logger, "server.listen", func() error {
		logger.Info("Server listening on %s", listener.Addr())
		return server.Serve(listener)
	})

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := server.Shutdown(shutdownCtx)

		serveErr := <-errCh
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("Server stopped")
		return nil
	}
}
