// Package auth verifies inbound bearer tokens against the identity
// provider's published signing keys.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
)

// DefaultEmailClaim is the namespaced claim checked when a token carries no
// standard email claim.
const DefaultEmailClaim = "https://subsidypayment/email"

// AuthInfo is the caller identity carried by a verified token.
type AuthInfo struct {
	Subject  string
	Email    string
	Scopes   []string
	RawToken string
}

// HasScope reports whether the token granted scope.
func (a *AuthInfo) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Issuer     string
	Audience   string
	EmailClaim string
	Leeway     time.Duration
	Now        func() time.Time
	Logger     logging.Logger
	Metrics    *observability.MetricsCollector
	Tracer     *observability.TracerProvider
}

// Verifier validates RS256 bearer tokens.
type Verifier struct {
	issuer     string
	audience   string
	emailClaim string
	leeway     time.Duration
	now        func() time.Time
	keys       KeySource
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// NewVerifier builds a Verifier. The issuer is normalized with
// NormalizeIssuer.
func NewVerifier(cfg VerifierConfig, keys KeySource) *Verifier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	emailClaim := strings.TrimSpace(cfg.EmailClaim)
	if emailClaim == "" {
		emailClaim = DefaultEmailClaim
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("TokenVerifier")
	}
	return &Verifier{
		issuer:     NormalizeIssuer(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		emailClaim: emailClaim,
		leeway:     cfg.Leeway,
		now:        now,
		keys:       keys,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}
}

// NormalizeIssuer turns a bare domain or URL into an absolute URL with
// exactly one trailing slash. Empty input stays empty.
func NormalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.HasPrefix(issuer, "http://") && !strings.HasPrefix(issuer, "https://") {
		issuer = "https://" + issuer
	}
	return strings.TrimRight(issuer, "/") + "/"
}

// JWKSURL returns the key set location for an issuer.
func JWKSURL(issuer string) string {
	normalized := NormalizeIssuer(issuer)
	if normalized == "" {
		return ""
	}
	return normalized + ".well-known/jwks.json"
}

// Issuer returns the normalized issuer.
func (v *Verifier) Issuer() string {
	return v.issuer
}

// Verify validates token and returns the caller identity. Every failure,
// including unexpected panics in parsing, yields (nil, false).
func (v *Verifier) Verify(ctx context.Context, token string) (info *AuthInfo, ok bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := v.tracer.StartSpan(ctx, observability.SpanVerifyToken)
	result := "invalid"
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Token verification panicked: %v", r)
			info, ok = nil, false
			result = "panic"
		}
		span.SetAttributes(attribute.String(observability.AttrCode, result))
		observability.EndSpan(span, nil)
		v.metrics.RecordTokenVerification(ctx, result)
	}()

	info, reason := v.verify(ctx, token)
	if info == nil {
		result = reason
		logging.FromContext(ctx, v.logger).Debug("Bearer token rejected: %s", reason)
		return nil, false
	}
	result = "valid"
	return info, true
}

func (v *Verifier) verify(ctx context.Context, token string) (*AuthInfo, string) {
	token = strings.TrimSpace(token)
	if token == "" || v.audience == "" || v.issuer == "" || v.keys == nil {
		return nil, "not_configured"
	}

	header, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, "malformed"
	}
	kid, _ := header.Header["kid"].(string)
	if kid == "" {
		return nil, "missing_kid"
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil || key == nil {
		return nil, "unknown_key"
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return nil, "rejected"
	}

	subject, _ := claims["sub"].(string)
	email := stringClaim(claims, "email")
	if email == "" {
		email = stringClaim(claims, v.emailClaim)
	}
	if subject == "" || email == "" {
		return nil, "missing_identity"
	}

	return &AuthInfo{
		Subject:  subject,
		Email:    email,
		Scopes:   scopesFromClaims(claims),
		RawToken: token,
	}, ""
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return strings.TrimSpace(value)
}

// scopesFromClaims reads the space delimited "scope" claim, falling back to
// a "scopes" string array.
func scopesFromClaims(claims jwt.MapClaims) []string {
	var raw []string
	if scope, ok := claims["scope"].(string); ok {
		raw = strings.Fields(scope)
	}
	if len(raw) == 0 {
		if list, ok := claims["scopes"].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					raw = append(raw, strings.TrimSpace(s))
				}
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	scopes := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		scopes = append(scopes, s)
	}
	return scopes
}

func (a *AuthInfo) String() string {
	if a == nil {
		return "<anonymous>"
	}
	return fmt.Sprintf("%s <%s>", a.Subject, a.Email)
}
