package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
)

func sampleHosts(mode models.BackendMode) []models.ProxyHost {
	return []models.ProxyHost{
		{
			Domain:       "a.example.com",
			UpstreamHost: "127.0.0.1",
			UpstreamPort: 3000,
			BackendMode:  mode,
			Enabled:      true,
		},
		{
			Domain:           "b.example.com",
			UpstreamHost:     "192.168.1.20",
			UpstreamPort:     8096,
			BackendMode:      mode,
			Enabled:          true,
			WebsocketEnabled: true,
			Rewrites: []models.RewriteRule{
				{FromPath: "/old", ToPath: "/new", Position: 0},
				{FromPath: "/legacy", ToPath: "/", Position: 1},
			},
		},
	}
}

func TestNginx_ServerBlocks(t *testing.T) {
	out, err := Nginx(sampleHosts(models.ModeNginx))
	require.NoError(t, err)

	assert.Contains(t, out, "server_name a.example.com;")
	assert.Contains(t, out, "proxy_pass http://127.0.0.1:3000;")
	assert.Contains(t, out, "server_name b.example.com;")
	assert.Contains(t, out, "proxy_set_header Upgrade $http_upgrade;")
	// Rewrites keep submission order.
	assert.Less(t,
		indexOf(out, "rewrite ^/old(.*)$ /new$1 break;"),
		indexOf(out, "rewrite ^/legacy(.*)$ /$1 break;"))
	// WebSocket headers only on the host that asked for them.
	aBlock := out[:indexOf(out, "server_name b.example.com;")]
	assert.NotContains(t, aBlock, "Upgrade")
}

func TestNginx_SkipsDisabledHosts(t *testing.T) {
	hosts := sampleHosts(models.ModeNginx)
	hosts[1].Enabled = false

	out, err := Nginx(hosts)
	require.NoError(t, err)
	assert.NotContains(t, out, "b.example.com")
}

func TestCaddy_SiteBlocks(t *testing.T) {
	out, err := Caddy(sampleHosts(models.ModeCaddy))
	require.NoError(t, err)

	assert.Contains(t, out, "a.example.com {")
	assert.Contains(t, out, "reverse_proxy 127.0.0.1:3000")
	assert.Contains(t, out, "uri replace /old /new")
	assert.Contains(t, out, "header_up Upgrade {http.request.header.Upgrade}")
}

func TestTunnelIngress_CatchAllIsLast(t *testing.T) {
	out, err := TunnelIngress(sampleHosts(models.ModeCloudflareTunnel))
	require.NoError(t, err)

	assert.Contains(t, out, "hostname: a.example.com")
	assert.Contains(t, out, "service: http://127.0.0.1:3000")
	idx404 := indexOf(out, "service: http_status:404")
	assert.Greater(t, idx404, indexOf(out, "b.example.com"))
}

func TestTunnelIngress_EmptyHostsStillHasCatchAll(t *testing.T) {
	out, err := TunnelIngress(nil)
	require.NoError(t, err)
	assert.Contains(t, out, "service: http_status:404")
}

func TestRender_Deterministic(t *testing.T) {
	for _, mode := range []models.BackendMode{models.ModeNginx, models.ModeCaddy, models.ModeCloudflareTunnel} {
		first, err := Render(mode, sampleHosts(mode))
		require.NoError(t, err)
		second, err := Render(mode, sampleHosts(mode))
		require.NoError(t, err)
		assert.Equal(t, first, second, "mode %s must render byte-identical output", mode)
	}
}

func TestRender_RejectsModeMismatch(t *testing.T) {
	hosts := sampleHosts(models.ModeNginx)
	_, err := Caddy(hosts)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestRender_UnknownMode(t *testing.T) {
	_, err := Render("apache", nil)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func indexOf(s, sub string) int {
	return strings.Index(s, sub)
}
