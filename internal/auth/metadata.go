package auth

import (
	"fmt"
	"strings"
)

// Scopes advertised to OAuth clients.
var SupportedScopes = []string{
	"user.read",
	"user.write",
	"tasks.read",
	"tasks.write",
	"services.execute",
}

// ProtectedResourceMetadata is served at
// /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported"`
}

// NewProtectedResourceMetadata describes publicURL as a resource guarded by
// issuer. An empty issuer advertises no authorization server.
func NewProtectedResourceMetadata(publicURL, issuer string) ProtectedResourceMetadata {
	servers := []string{}
	if normalized := NormalizeIssuer(issuer); normalized != "" {
		servers = append(servers, strings.TrimRight(normalized, "/"))
	}
	scopes := make([]string, len(SupportedScopes))
	copy(scopes, SupportedScopes)
	return ProtectedResourceMetadata{
		Resource:             strings.TrimRight(publicURL, "/"),
		AuthorizationServers: servers,
		ScopesSupported:      scopes,
	}
}

// ResourceMetadataURL is where clients discover how to authenticate.
func ResourceMetadataURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/.well-known/oauth-protected-resource"
}

// WWWAuthenticate builds the challenge returned with unauthorized results.
func WWWAuthenticate(publicURL string) string {
	return fmt.Sprintf("Bearer resource_metadata=%q", ResourceMetadataURL(publicURL))
}

// InsufficientScope builds the challenge for a token lacking scopes.
func InsufficientScope(publicURL string, scopes []string) string {
	return fmt.Sprintf("Bearer error=\"insufficient_scope\", scope=%q, resource_metadata=%q",
		strings.Join(scopes, " "), ResourceMetadataURL(publicURL))
}

// AuthorizationServerMetadataURL is the issuer's own discovery document.
func AuthorizationServerMetadataURL(issuer string) string {
	normalized := NormalizeIssuer(issuer)
	if normalized == "" {
		return ""
	}
	return normalized + ".well-known/oauth-authorization-server"
}
