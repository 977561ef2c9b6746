package render

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ezbridge/bridge/internal/models"
)

type ingressRule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

type ingressConfig struct {
	Ingress []ingressRule `yaml:"ingress"`
}

// TunnelIngress renders the cloudflared ingress mapping. The final rule is
// always the catch-all http_status:404 required by cloudflared.
func TunnelIngress(hosts []models.ProxyHost) (string, error) {
	if err := checkMode(models.ModeCloudflareTunnel, hosts); err != nil {
		return "", err
	}

	cfg := ingressConfig{Ingress: make([]ingressRule, 0, len(hosts)+1)}
	for _, h := range hosts {
		if !h.Enabled {
			continue
		}
		cfg.Ingress = append(cfg.Ingress, ingressRule{
			Hostname: h.Domain,
			Service:  fmt.Sprintf("http://%s", h.UpstreamAddr()),
		})
	}
	cfg.Ingress = append(cfg.Ingress, ingressRule{Service: "http_status:404"})

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal ingress: %w", err)
	}
	return string(out), nil
}
