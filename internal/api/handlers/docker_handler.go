package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/services"
)

type DockerHandler struct {
	dockerService *services.DockerService
}

func NewDockerHandler(dockerService *services.DockerService) *DockerHandler {
	return &DockerHandler{dockerService: dockerService}
}

// ListContainers returns running containers with published ports, so the
// host form can offer upstream targets. An optional host query selects a
// non-default Docker endpoint.
func (h *DockerHandler) ListContainers(c *gin.Context) {
	containers, err := h.dockerService.ListContainers(c.Request.Context(), c.Query("host"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, containers)
}
