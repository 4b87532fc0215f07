package bootstrap

import (
	"fmt"

	"subsidypay/internal/access"
	"subsidypay/internal/auth"
	"subsidypay/internal/backend"
	"subsidypay/internal/config"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
	"subsidypay/internal/session"
)

// Container holds the long-lived components of one gateway process.
type Container struct {
	Config   config.Config
	Obs      *observability.Observability
	Backend  *backend.Client
	Verifier *auth.Verifier
	Sessions *session.Resolver
	Resolver *access.Resolver
}

// BuildContainer wires the backend client, token verifier, session resolver
// and access resolver from cfg. The verifier is nil when auth is disabled.
func BuildContainer(cfg config.Config, obs *observability.Observability) (*Container, error) {
	var metrics *observability.MetricsCollector
	var tracer *observability.TracerProvider
	if obs != nil {
		metrics, tracer = obs.Metrics, obs.Tracer
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:          cfg.Backend.URL,
		APIKey:           cfg.Backend.APIKey,
		Timeout:          cfg.Backend.Timeout,
		MaxResponseBytes: cfg.Backend.MaxResponseBytes,
		CircuitBreaker:   cfg.Backend.CircuitBreaker,
	},
		backend.WithLogger(logging.NewComponentLogger("BackendClient")),
		backend.WithObservability(metrics, tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		keys, err := auth.NewJWKSKeySource(auth.KeySetConfig{
			URL:              auth.JWKSURL(cfg.Auth.Domain),
			CacheTTL:         cfg.Auth.JWKSCacheTTL,
			FetchesPerMinute: cfg.Auth.JWKSFetchesPerMinute,
			Logger:           logging.NewComponentLogger("JWKS"),
			Metrics:          metrics,
			Tracer:           tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("signing keys: %w", err)
		}
		verifier = auth.NewVerifier(auth.VerifierConfig{
			Issuer:     cfg.Auth.Domain,
			Audience:   cfg.Auth.Audience,
			EmailClaim: cfg.Auth.EmailClaim,
			Logger:     logging.NewComponentLogger("TokenVerifier"),
			Metrics:    metrics,
			Tracer:     tracer,
		}, keys)
	}

	fallbackEmail := cfg.Session.FallbackEmail
	if cfg.Auth.Enabled {
		fallbackEmail = ""
	}
	sessions := session.NewResolver(client, session.Config{
		Region:        cfg.Session.Region,
		FallbackEmail: fallbackEmail,
	}, logging.NewComponentLogger("SessionResolver"))

	resolver := access.NewResolver(client,
		access.WithLogger(logging.NewComponentLogger("AccessResolver")),
		access.WithObservability(metrics, tracer),
	)

	return &Container{
		Config:   cfg,
		Obs:      obs,
		Backend:  client,
		Verifier: verifier,
		Sessions: sessions,
		Resolver: resolver,
	}, nil
}

// Issuer is the normalized authorization server advertised to OAuth
// clients, empty when no domain is configured.
func (c *Container) Issuer() string {
	return auth.NormalizeIssuer(c.Config.Auth.Domain)
}
