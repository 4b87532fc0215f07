package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"subsidypay/internal/access"
	"subsidypay/internal/auth"
	"subsidypay/internal/backend"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
	"subsidypay/internal/session"
)

// ToolBackend is the subset of the backend client the tool handlers call
// directly. Service runs go through RunResolver instead.
type ToolBackend interface {
	SearchServices(ctx context.Context, params backend.SearchParams) (*backend.SearchResponse, error)
	AuthenticateUser(ctx context.Context, req backend.AuthRequest) (*backend.AuthResponse, error)
	GetTaskDetails(ctx context.Context, campaignID, sessionToken string) (*backend.TaskResponse, error)
	CompleteTask(ctx context.Context, campaignID string, req backend.CompleteTaskRequest) (*backend.CompleteTaskResponse, error)
	GetUserStatus(ctx context.Context, sessionToken string) (*backend.UserStatus, error)
	GetPreferences(ctx context.Context, sessionToken string) (*backend.Preferences, error)
	SetPreferences(ctx context.Context, req backend.SetPreferencesRequest) (*backend.SetPreferencesResponse, error)
}

// RunResolver resolves a service run into an access outcome.
type RunResolver interface {
	ResolveServiceRun(ctx context.Context, service, input, sessionToken string) access.Outcome
}

// SessionResolver finds or mints the backend session for a caller.
type SessionResolver interface {
	Resolve(ctx context.Context, rc session.RequestContext, info *auth.AuthInfo) (string, error)
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.AuthInfo, bool)
}

// RouterDeps carries everything NewRouter wires together.
type RouterDeps struct {
	Backend  ToolBackend
	Resolver RunResolver
	Sessions SessionResolver
	// Verifier is consulted only when AuthEnabled is set.
	Verifier      TokenVerifier
	AuthEnabled   bool
	EnforceScopes bool
	Issuer        string

	PublicURL      string
	AllowedOrigins []string
	RateLimit      RateLimitConfig

	Obs     *observability.Observability
	Logger  logging.Logger
	Version string
	Started time.Time
}

// NewRouter builds the gin engine serving the tool surface, OAuth discovery
// documents, health and metrics.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := logging.OrNop(deps.Logger)
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(corsConfig(deps.AllowedOrigins)))
	engine.Use(RequestIDMiddleware())
	engine.Use(ObservabilityMiddleware(deps.Obs, logging.NewComponentLogger("HTTP")))

	health := &healthHandler{version: deps.Version, started: deps.Started}
	engine.GET("/", health.handle)
	engine.GET("/health", health.handle)

	if deps.Obs != nil && deps.Obs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Obs.Metrics.Handler()))
	}

	discovery := &discoveryHandler{publicURL: deps.PublicURL, issuer: deps.Issuer}
	engine.GET("/.well-known/oauth-protected-resource", discovery.protectedResource)
	engine.GET("/.well-known/oauth-authorization-server", discovery.authorizationServer)

	tools := newToolHandler(deps, logger)
	engine.GET("/tools", tools.list)
	group := engine.Group("/tools")
	group.Use(AuthMiddleware(AuthConfig{
		Enabled:       deps.AuthEnabled,
		EnforceScopes: deps.EnforceScopes,
		Verifier:      deps.Verifier,
		PublicURL:     deps.PublicURL,
	}, logger))
	group.Use(RateLimitMiddleware(deps.RateLimit))
	group.POST("/:name", tools.invoke)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", session.Header, requestIDHeader}
	cfg.ExposeHeaders = []string{"WWW-Authenticate", requestIDHeader}
	return cfg
}
