package backends

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ezbridge/bridge/internal/cloudflare"
	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/process"
	"github.com/ezbridge/bridge/internal/render"
)

// dnsClient is the slice of the Cloudflare API the adapter needs.
type dnsClient interface {
	EnsureRecord(ctx context.Context, name, ip string) error
	DeleteRecord(ctx context.Context, name string) error
}

// TunnelAdapter exposes hosts through a cloudflared tunnel. TLS terminates at
// the provider's edge.
type TunnelAdapter struct {
	controller *process.Controller

	mu    sync.Mutex
	token string

	// newDNSClient is swappable in tests.
	newDNSClient func(apiToken, zoneID string) dnsClient
}

// NewTunnelAdapter wires the ingress renderer and cloudflared controller.
func NewTunnelAdapter(binDir, configDir string) *TunnelAdapter {
	a := &TunnelAdapter{
		newDNSClient: func(apiToken, zoneID string) dnsClient {
			return cloudflare.NewClient(apiToken, zoneID)
		},
	}
	a.controller = process.NewController(process.Spec{
		Name:        "cloudflared",
		BinaryPath:  filepath.Join(binDir, "cloudflared"),
		DownloadURL: cloudflaredDownloadURL(),
		ConfigPath:  filepath.Join(configDir, "tunnel.yml"),
		StartArgs: func(cfg string) []string {
			return []string{"tunnel", "--config", cfg, "run", "--token", a.currentToken()}
		},
		ValidateArgs: func(cfg string) []string {
			return []string{"tunnel", "--config", cfg, "ingress", "validate"}
		},
		// cloudflared has no hot reload; the controller restarts it.
	})
	return a
}

// cloudflaredDownloadURL matches the naming convention of Cloudflare's GitHub
// releases for the current platform.
func cloudflaredDownloadURL() string {
	name := fmt.Sprintf("cloudflared-%s-%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return "https://github.com/cloudflare/cloudflared/releases/latest/download/" + name
}

func (a *TunnelAdapter) currentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *TunnelAdapter) Mode() models.BackendMode { return models.ModeCloudflareTunnel }

func (a *TunnelAdapter) Controller() ProcessController { return a.controller }

func (a *TunnelAdapter) Render(hosts []models.ProxyHost) (string, error) {
	return render.TunnelIngress(hosts)
}

// Setup requires a tunnel token and caches it for the start argv.
func (a *TunnelAdapter) Setup(ctx context.Context, state *models.BackendState) error {
	if state.TunnelToken == "" {
		return fmt.Errorf("%w: tunnel token is not configured", errdefs.ErrValidation)
	}
	a.mu.Lock()
	a.token = state.TunnelToken
	a.mu.Unlock()
	return nil
}

// RegisterHost creates the DNS record for the host's domain. Failures surface
// as ErrExternalService so the caller can roll back the host record.
func (a *TunnelAdapter) RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	if state.CloudflareAPIToken == "" || state.CloudflareZoneID == "" {
		return fmt.Errorf("%w: cloudflare DNS credentials are not configured", errdefs.ErrValidation)
	}
	client := a.newDNSClient(state.CloudflareAPIToken, state.CloudflareZoneID)
	return client.EnsureRecord(ctx, host.Domain, state.PublicIP)
}

// UnregisterHost removes the DNS record created for the host.
func (a *TunnelAdapter) UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	if state.CloudflareAPIToken == "" || state.CloudflareZoneID == "" {
		return nil
	}
	client := a.newDNSClient(state.CloudflareAPIToken, state.CloudflareZoneID)
	return client.DeleteRecord(ctx, host.Domain)
}
