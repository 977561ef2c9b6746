package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/services"
)

type HostHandler struct {
	hostService *services.HostService
}

func NewHostHandler(hostService *services.HostService) *HostHandler {
	return &HostHandler{hostService: hostService}
}

// List returns all proxy hosts.
func (h *HostHandler) List(c *gin.Context) {
	hosts, err := h.hostService.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hosts)
}

// Get returns a single host by domain.
func (h *HostHandler) Get(c *gin.Context) {
	host, err := h.hostService.GetByDomain(c.Param("domain"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Create adds a host and responds with the record plus the rendered config
// it produced, so the operator can see exactly what the backend received.
func (h *HostHandler) Create(c *gin.Context) {
	var host models.ProxyHost
	if err := c.ShouldBindJSON(&host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	host.Enabled = true

	if err := h.hostService.Create(c.Request.Context(), &host); err != nil {
		respondError(c, err)
		return
	}

	rendered, err := h.hostService.RenderedConfig()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"host": host, "config": rendered})
}

// Update modifies a host's upstream, flags and rewrites.
func (h *HostHandler) Update(c *gin.Context) {
	var updates models.ProxyHost
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := h.hostService.Update(c.Request.Context(), c.Param("domain"), &updates)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// Delete removes a host and regenerates the backend config.
func (h *HostHandler) Delete(c *gin.Context) {
	if err := h.hostService.Delete(c.Request.Context(), c.Param("domain")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenderedConfig previews the active backend's config without applying it.
func (h *HostHandler) RenderedConfig(c *gin.Context) {
	rendered, err := h.hostService.RenderedConfig()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": rendered})
}
