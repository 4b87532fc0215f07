package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"subsidypay/internal/auth"
)

type healthHandler struct {
	version string
	started time.Time
}

func (h *healthHandler) handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

type discoveryHandler struct {
	publicURL string
	issuer    string
}

func (h *discoveryHandler) protectedResource(c *gin.Context) {
	c.JSON(http.StatusOK, auth.NewProtectedResourceMetadata(h.publicURL, h.issuer))
}

func (h *discoveryHandler) authorizationServer(c *gin.Context) {
	target := auth.AuthorizationServerMetadataURL(h.issuer)
	if target == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"code":    "auth_server_not_configured",
			"message": "AUTH0_DOMAIN is not configured",
		}})
		return
	}
	c.Redirect(http.StatusFound, target)
}
