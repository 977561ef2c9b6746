// Package portal places a login gate in front of protected proxy hosts
// without touching the upstream application.
package portal

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/services"
)

// CookieName carries the domain-scoped session token.
const CookieName = "bridge_session"

// Gateway intercepts requests addressed to protected hosts and enforces a
// valid session before they reach the upstream.
type Gateway struct {
	db   *gorm.DB
	auth *services.AuthService
}

func NewGateway(db *gorm.DB, auth *services.AuthService) *Gateway {
	return &Gateway{db: db, auth: auth}
}

// requestDomain strips an optional port from the Host header.
func requestDomain(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// loginPath reports whether the path belongs to the login flow itself. These
// must stay reachable on protected hosts or no visitor could ever obtain a
// session there.
func loginPath(path string) bool {
	switch path {
	case "/api/v1/portal/login", "/api/v1/portal/logout":
		return true
	}
	return strings.HasPrefix(path, "/portal/login")
}

// Middleware resolves the request's Host header to a proxy host record. For
// hosts with auth enabled it requires a session scoped to exactly that
// domain; anything else redirects to the login page with the original URL
// preserved. Unknown hosts, unprotected hosts and the login flow pass
// through.
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if loginPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		domain := requestDomain(c.Request)

		var host models.ProxyHost
		err := g.db.Where("domain = ?", domain).First(&host).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Next()
			return
		}
		if !host.AuthEnabled {
			c.Next()
			return
		}

		token, err := c.Cookie(CookieName)
		if err == nil {
			if account, verr := g.auth.Validate(token, domain); verr == nil {
				c.Set("portalAccount", account)
				c.Next()
				return
			}
		}

		g.redirectToLogin(c)
	}
}

func (g *Gateway) redirectToLogin(c *gin.Context) {
	next := url.QueryEscape(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, "/portal/login?next="+next)
	c.Abort()
}

// SetSessionCookie attaches the session token to the response, HttpOnly and
// scoped to the current host.
func SetSessionCookie(c *gin.Context, token string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, maxAge, "/", "", secure, true)
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(c *gin.Context, secure bool) {
	SetSessionCookie(c, "", -1, secure)
}
