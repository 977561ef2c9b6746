package render

import (
	"fmt"
	"strings"

	"github.com/ezbridge/bridge/internal/models"
)

// Caddy renders a Caddyfile with one site block per enabled host. ACME
// certificate issuance is automatic; no TLS directives are emitted.
func Caddy(hosts []models.ProxyHost) (string, error) {
	if err := checkMode(models.ModeCaddy, hosts); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# generated by bridge - do not edit\n")

	for _, h := range hosts {
		if !h.Enabled {
			continue
		}

		fmt.Fprintf(&b, "\n%s {\n", h.Domain)

		for _, r := range h.Rewrites {
			fmt.Fprintf(&b, "\turi replace %s %s\n", r.FromPath, r.ToPath)
		}

		if h.WebsocketEnabled {
			fmt.Fprintf(&b, "\treverse_proxy %s {\n", h.UpstreamAddr())
			fmt.Fprintf(&b, "\t\theader_up Upgrade {http.request.header.Upgrade}\n")
			fmt.Fprintf(&b, "\t\theader_up Connection {http.request.header.Connection}\n")
			fmt.Fprintf(&b, "\t}\n")
		} else {
			fmt.Fprintf(&b, "\treverse_proxy %s\n", h.UpstreamAddr())
		}

		fmt.Fprintf(&b, "}\n")
	}

	return b.String(), nil
}
