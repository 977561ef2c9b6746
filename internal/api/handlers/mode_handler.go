package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/services"
)

type ModeHandler struct {
	modeService *services.ModeService
}

func NewModeHandler(modeService *services.ModeService) *ModeHandler {
	return &ModeHandler{modeService: modeService}
}

// GetState returns the setup state machine and process status.
func (h *ModeHandler) GetState(c *gin.Context) {
	state, err := h.modeService.State()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type selectModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// Select picks the deployment's backend mode (one-time, reset to change).
func (h *ModeHandler) Select(c *gin.Context) {
	var req selectModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.modeService.Select(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Configure stores mode prerequisites (tunnel token, DNS credentials).
func (h *ModeHandler) Configure(c *gin.Context) {
	var settings services.ModeSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.modeService.Configure(settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type resetModeRequest struct {
	Confirm bool `json:"confirm"`
}

// Reset destroys the current mode and all of its hosts. Requires explicit
// confirmation in the request body.
func (h *ModeHandler) Reset(c *gin.Context) {
	var req resetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reset requires confirm: true"})
		return
	}

	state, err := h.modeService.Reset(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
