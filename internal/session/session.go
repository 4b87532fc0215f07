// Package session resolves the backend session token for a request.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"subsidypay/internal/auth"
	"subsidypay/internal/backend"
	"subsidypay/internal/logging"
)

// Header carrying a caller supplied session token.
const Header = "X-Session-Token"

// ErrSessionRequired means no session token was supplied and none could be
// minted for the caller.
var ErrSessionRequired = errors.New("session token required")

// RequestContext is the caller state extracted once at the HTTP boundary.
type RequestContext struct {
	BearerToken  string
	SessionToken string
}

// FromRequest builds a RequestContext. Bearer token precedence is the
// Authorization header then the access_token query parameter; session token
// precedence is the X-Session-Token header then inputSessionToken.
func FromRequest(r *http.Request, inputSessionToken string) RequestContext {
	var rc RequestContext
	if r != nil {
		rc.BearerToken = BearerToken(r.Header.Get("Authorization"))
		if rc.BearerToken == "" && r.URL != nil {
			rc.BearerToken = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		rc.SessionToken = strings.TrimSpace(r.Header.Get(Header))
	}
	if rc.SessionToken == "" {
		rc.SessionToken = strings.TrimSpace(inputSessionToken)
	}
	return rc
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// Authenticator mints backend sessions.
type Authenticator interface {
	AuthenticateUser(ctx context.Context, req backend.AuthRequest) (*backend.AuthResponse, error)
}

// Config configures a Resolver.
type Config struct {
	// Region is sent when minting a session.
	Region string
	// FallbackEmail mints sessions for anonymous callers when set. Only
	// meaningful when bearer auth is disabled.
	FallbackEmail string
}

// Resolver obtains a session token per request. Tokens are never cached
// across requests.
type Resolver struct {
	auth          Authenticator
	region        string
	fallbackEmail string
	logger        logging.Logger
}

// NewResolver builds a Resolver.
func NewResolver(a Authenticator, cfg Config, logger logging.Logger) *Resolver {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SessionResolver")
	}
	return &Resolver{
		auth:          a,
		region:        region,
		fallbackEmail: strings.TrimSpace(cfg.FallbackEmail),
		logger:        logger,
	}
}

// Resolve returns the caller's session token. A supplied token wins;
// otherwise one is minted from the verified identity's email, then from the
// fallback email. With neither, it returns ErrSessionRequired.
func (r *Resolver) Resolve(ctx context.Context, rc RequestContext, info *auth.AuthInfo) (string, error) {
	if token := strings.TrimSpace(rc.SessionToken); token != "" {
		return token, nil
	}

	email := r.fallbackEmail
	if info != nil && info.Email != "" {
		email = info.Email
	}
	if email == "" || r.auth == nil {
		return "", ErrSessionRequired
	}

	resp, err := r.auth.AuthenticateUser(ctx, backend.AuthRequest{Email: email, Region: r.region})
	if err != nil {
		return "", fmt.Errorf("mint session: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.SessionToken) == "" {
		return "", ErrSessionRequired
	}
	logging.FromContext(ctx, r.logger).Debug("Minted session for user %s", resp.UserID)
	return resp.SessionToken, nil
}
