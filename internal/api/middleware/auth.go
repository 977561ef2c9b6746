package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/portal"
	"github.com/ezbridge/bridge/internal/services"
)

// PortalAuth guards administrative API routes. While no account exists the
// deployment is in bootstrap and every request passes, so the operator can
// reach the setup endpoint. Once an account exists a session scoped to the
// admin UI's own domain is required.
func PortalAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		open, err := auth.SetupAllowed()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if open {
			c.Next()
			return
		}

		token, err := c.Cookie(portal.CookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		domain := strings.ToLower(c.Request.Host)
		if h, _, err := net.SplitHostPort(domain); err == nil {
			domain = h
		}

		account, err := auth.Validate(token, domain)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set("account", account)
		c.Next()
	}
}
