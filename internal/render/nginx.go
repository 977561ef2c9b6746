package render

import (
	"fmt"
	"strings"

	"github.com/ezbridge/bridge/internal/models"
)

// Nginx renders one server block per enabled host. Rewrite rules are emitted
// in position order; nginx evaluates rewrite directives top to bottom, so the
// first matching rule wins.
func Nginx(hosts []models.ProxyHost) (string, error) {
	if err := checkMode(models.ModeNginx, hosts); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# generated by bridge - do not edit\n")
	b.WriteString("worker_processes auto;\n")
	b.WriteString("pid /run/bridge-nginx.pid;\n\n")
	b.WriteString("events {\n    worker_connections 1024;\n}\n\n")
	b.WriteString("http {\n")
	b.WriteString("    sendfile on;\n")
	b.WriteString("    tcp_nopush on;\n")
	b.WriteString("    keepalive_timeout 65;\n")
	b.WriteString("    client_max_body_size 0;\n")

	for _, h := range hosts {
		if !h.Enabled {
			continue
		}

		fmt.Fprintf(&b, "\n    server {\n")
		fmt.Fprintf(&b, "        listen 80;\n")
		fmt.Fprintf(&b, "        listen 443 ssl;\n")
		fmt.Fprintf(&b, "        server_name %s;\n", h.Domain)

		for _, r := range h.Rewrites {
			fmt.Fprintf(&b, "        rewrite ^%s(.*)$ %s$1 break;\n", r.FromPath, r.ToPath)
		}

		fmt.Fprintf(&b, "        location / {\n")
		fmt.Fprintf(&b, "            proxy_pass http://%s;\n", h.UpstreamAddr())
		fmt.Fprintf(&b, "            proxy_set_header Host $host;\n")
		fmt.Fprintf(&b, "            proxy_set_header X-Real-IP $remote_addr;\n")
		fmt.Fprintf(&b, "            proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
		fmt.Fprintf(&b, "            proxy_set_header X-Forwarded-Proto $scheme;\n")
		if h.WebsocketEnabled {
			fmt.Fprintf(&b, "            proxy_http_version 1.1;\n")
			fmt.Fprintf(&b, "            proxy_set_header Upgrade $http_upgrade;\n")
			fmt.Fprintf(&b, "            proxy_set_header Connection \"upgrade\";\n")
		}
		fmt.Fprintf(&b, "        }\n")
		fmt.Fprintf(&b, "    }\n")
	}

	b.WriteString("}\n")
	return b.String(), nil
}
