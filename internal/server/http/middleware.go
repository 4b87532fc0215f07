package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"subsidypay/internal/auth"
	"subsidypay/internal/logging"
	"subsidypay/internal/session"
	id "subsidypay/internal/utils/id"
)

const (
	requestIDHeader = "X-Request-ID"
	authInfoKey     = "subsidypay.auth_info"
)

// RequestIDMiddleware attaches a request id to the request context, reusing a
// well-formed inbound X-Request-ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = id.NewRequestID()
		}
		c.Request = c.Request.WithContext(id.WithRequestID(c.Request.Context(), requestID))
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// AuthConfig controls AuthMiddleware.
type AuthConfig struct {
	Enabled bool
	// EnforceScopes rejects verified tokens missing a tool's scopes.
	EnforceScopes bool
	Verifier      TokenVerifier
	PublicURL     string
}

// AuthMiddleware verifies the caller's bearer token for tools that need an
// identity. Verified identities are stored on the gin context and the
// subject on the request context. Failures end the request with the
// unauthorized tool result.
func AuthMiddleware(cfg AuthConfig, logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		name := c.Param("name")
		if !cfg.Enabled || !toolRequiresAuth(name) {
			c.Next()
			return
		}

		token := session.FromRequest(c.Request, "").BearerToken
		var info *auth.AuthInfo
		ok := false
		if token != "" && cfg.Verifier != nil {
			info, ok = cfg.Verifier.Verify(c.Request.Context(), token)
		}
		if !ok || info == nil {
			logging.FromContext(c.Request.Context(), logger).Debug("Rejected unauthenticated call to %s", name)
			abortUnauthorized(c, cfg.PublicURL)
			return
		}

		if cfg.EnforceScopes {
			if missing := missingScopes(name, info); len(missing) > 0 {
				logging.FromContext(c.Request.Context(), logger).Info("Rejected %s for %s: missing scopes %v", name, info.Subject, missing)
				result := insufficientScopeResult(cfg.PublicURL, missing)
				c.Header("WWW-Authenticate", auth.InsufficientScope(cfg.PublicURL, missing))
				c.AbortWithStatusJSON(http.StatusForbidden, result)
				return
			}
		}

		c.Set(authInfoKey, info)
		c.Request = c.Request.WithContext(id.WithSubject(c.Request.Context(), info.Subject))
		c.Next()
	}
}

func missingScopes(tool string, info *auth.AuthInfo) []string {
	spec, ok := findTool(tool)
	if !ok {
		return nil
	}
	var missing []string
	for _, scope := range spec.Scopes {
		if !info.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// CurrentAuthInfo returns the verified identity stored by AuthMiddleware.
func CurrentAuthInfo(c *gin.Context) (*auth.AuthInfo, bool) {
	value, ok := c.Get(authInfoKey)
	if !ok {
		return nil, false
	}
	info, ok := value.(*auth.AuthInfo)
	return info, ok && info != nil
}

func abortUnauthorized(c *gin.Context, publicURL string) {
	c.Header("WWW-Authenticate", auth.WWWAuthenticate(publicURL))
	c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedResult(publicURL))
}
