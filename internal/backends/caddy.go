package backends

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/process"
	"github.com/ezbridge/bridge/internal/render"
)

const caddyVersion = "2.8.4"

// CaddyAdapter serves hosts directly with automatic ACME certificates.
type CaddyAdapter struct {
	controller *process.Controller
}

// NewCaddyAdapter wires the Caddy renderer and process controller.
func NewCaddyAdapter(binDir, configDir string) *CaddyAdapter {
	cfgPath := filepath.Join(configDir, "Caddyfile")
	return &CaddyAdapter{
		controller: process.NewController(process.Spec{
			Name:        "caddy",
			BinaryPath:  filepath.Join(binDir, "caddy"),
			DownloadURL: caddyDownloadURL(),
			ConfigPath:  cfgPath,
			StartArgs: func(cfg string) []string {
				return []string{"run", "--config", cfg, "--adapter", "caddyfile"}
			},
			ValidateArgs: func(cfg string) []string {
				return []string{"validate", "--config", cfg, "--adapter", "caddyfile"}
			},
			ReloadArgs: func(cfg string) []string {
				return []string{"reload", "--config", cfg, "--adapter", "caddyfile"}
			},
		}),
	}
}

func caddyDownloadURL() string {
	return fmt.Sprintf("https://github.com/caddyserver/caddy/releases/download/v%s/caddy_%s_%s_%s.tar.gz",
		caddyVersion, caddyVersion, runtime.GOOS, runtime.GOARCH)
}

func (a *CaddyAdapter) Mode() models.BackendMode { return models.ModeCaddy }

func (a *CaddyAdapter) Controller() ProcessController { return a.controller }

func (a *CaddyAdapter) Render(hosts []models.ProxyHost) (string, error) {
	return render.Caddy(hosts)
}

// Setup has nothing to check: ACME issuance is automatic on start.
func (a *CaddyAdapter) Setup(ctx context.Context, state *models.BackendState) error {
	return nil
}

func (a *CaddyAdapter) RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}

func (a *CaddyAdapter) UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}
