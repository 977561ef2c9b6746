package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/models"
)

type BackendHandler struct {
	manager *backends.Manager
}

func NewBackendHandler(manager *backends.Manager) *BackendHandler {
	return &BackendHandler{manager: manager}
}

// Status reports whether the active backend binary is installed and running.
func (h *BackendHandler) Status(c *gin.Context) {
	adapter, state, err := h.manager.ActiveAdapter()
	if err != nil {
		respondError(c, err)
		return
	}

	status := adapter.Controller().Status()
	c.JSON(http.StatusOK, gin.H{
		"mode":            state.ActiveMode,
		"status":          status,
		"installed":       status != models.StatusNotInstalled,
		"running":         status == models.StatusRunning,
		"config_version":  state.ConfigVersion,
		"applied_version": state.AppliedVersion,
		"last_error":      state.LastError,
	})
}

// Install downloads the backend binary if absent.
func (h *BackendHandler) Install(c *gin.Context) {
	if err := h.manager.Install(c.Request.Context()); err != nil {
		respondOperation(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "backend installed"})
}

// Start applies the current config and launches the backend process.
func (h *BackendHandler) Start(c *gin.Context) {
	if err := h.manager.Start(c.Request.Context()); err != nil {
		respondOperation(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "backend started"})
}

// Stop terminates the backend process. Idempotent.
func (h *BackendHandler) Stop(c *gin.Context) {
	if err := h.manager.Stop(c.Request.Context()); err != nil {
		respondOperation(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "backend stopped"})
}

// Reload re-renders and applies the config to the running process.
func (h *BackendHandler) Reload(c *gin.Context) {
	if err := h.manager.Apply(c.Request.Context()); err != nil {
		respondOperation(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "configuration reloaded"})
}

// Logs returns the last lines captured from the backend process output.
func (h *BackendHandler) Logs(c *gin.Context) {
	adapter, _, err := h.manager.ActiveAdapter()
	if err != nil {
		respondError(c, err)
		return
	}

	n := 100
	if q := c.Query("lines"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			n = v
		}
	}

	c.JSON(http.StatusOK, gin.H{"lines": adapter.Controller().Logs(n)})
}

// respondOperation keeps the {success,message} contract for lifecycle
// endpoints while preserving the taxonomy's status codes.
func respondOperation(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "message": err.Error()})
}
