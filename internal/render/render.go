// Package render turns proxy-host records into backend-specific configuration
// text. Renderers are pure: identical input yields byte-identical output, and
// nothing here touches the filesystem or the process table.
package render

import (
	"fmt"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
)

// Render dispatches to the renderer for the given mode.
func Render(mode models.BackendMode, hosts []models.ProxyHost) (string, error) {
	switch mode {
	case models.ModeNginx:
		return Nginx(hosts)
	case models.ModeCaddy:
		return Caddy(hosts)
	case models.ModeCloudflareTunnel:
		return TunnelIngress(hosts)
	default:
		return "", fmt.Errorf("%w: unknown backend mode %q", errdefs.ErrValidation, mode)
	}
}

// checkMode rejects hosts that belong to a different backend mode.
func checkMode(mode models.BackendMode, hosts []models.ProxyHost) error {
	for _, h := range hosts {
		if h.BackendMode != mode {
			return fmt.Errorf("%w: host %s has mode %q, renderer expects %q",
				errdefs.ErrValidation, h.Domain, h.BackendMode, mode)
		}
	}
	return nil
}
