package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/portal"
	"github.com/ezbridge/bridge/internal/services"
)

type PortalHandler struct {
	authService *services.AuthService
	// secureCookies marks whether session cookies require HTTPS.
	secureCookies    bool
	sessionMaxAgeSec int
}

func NewPortalHandler(authService *services.AuthService, secureCookies bool, sessionMaxAgeSec int) *PortalHandler {
	return &PortalHandler{
		authService:      authService,
		secureCookies:    secureCookies,
		sessionMaxAgeSec: sessionMaxAgeSec,
	}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Setup creates the first account. Returns 201 exactly once per deployment
// and 403 forever after.
func (h *PortalHandler) Setup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.authService.Setup(req.Username, req.Password)
	if err != nil {
		if statusFor(err) == http.StatusConflict {
			c.JSON(http.StatusForbidden, gin.H{"error": "setup already completed"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// Login verifies credentials and sets the domain-scoped session cookie. The
// failure message never reveals which credential was wrong.
func (h *PortalHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.Login(req.Username, req.Password, requestHost(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	portal.SetSessionCookie(c, token, h.sessionMaxAgeSec, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "logged in"})
}

// Logout clears the session cookie.
func (h *PortalHandler) Logout(c *gin.Context) {
	portal.ClearSessionCookie(c, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ListAccounts returns all portal accounts (authenticated route).
func (h *PortalHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.authService.ListAccounts()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// CreateAccount adds another account (authenticated route).
func (h *PortalHandler) CreateAccount(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.authService.CreateAccount(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// DeleteAccount removes an account and revokes its sessions.
func (h *PortalHandler) DeleteAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, errdefs.ErrValidation)
		return
	}

	if err := h.authService.DeleteAccount(uint(id)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
