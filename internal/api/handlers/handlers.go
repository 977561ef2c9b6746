// Package handlers implements the administrative HTTP surface.
package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ezbridge/bridge/internal/errdefs"
)

// requestHost returns the request's Host header without the port.
func requestHost(c *gin.Context) string {
	host := c.Request.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrConflict), errors.Is(err, errdefs.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrConfigInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errdefs.ErrProcess), errors.Is(err, errdefs.ErrExternalService):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the taxonomy-mapped status with the error detail.
// Error text is operator-facing, never a raw backend stack trace.
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
