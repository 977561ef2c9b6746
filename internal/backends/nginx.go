package backends

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/process"
	"github.com/ezbridge/bridge/internal/render"
)

// NginxAdapter serves hosts through a locally supervised nginx. Unlike the
// other backends the binary comes from the system package manager, so the
// controller carries no download source.
type NginxAdapter struct {
	controller *process.Controller
}

// NewNginxAdapter wires the nginx renderer and process controller.
func NewNginxAdapter(configDir string) *NginxAdapter {
	binPath := "/usr/sbin/nginx"
	if p, err := exec.LookPath("nginx"); err == nil {
		binPath = p
	}
	cfgPath := filepath.Join(configDir, "nginx.conf")
	return &NginxAdapter{
		controller: process.NewController(process.Spec{
			Name:       "nginx",
			BinaryPath: binPath,
			ConfigPath: cfgPath,
			StartArgs: func(cfg string) []string {
				return []string{"-c", cfg, "-g", "daemon off;"}
			},
			ValidateArgs: func(cfg string) []string {
				return []string{"-t", "-c", cfg}
			},
			ReloadArgs: func(cfg string) []string {
				return []string{"-c", cfg, "-s", "reload"}
			},
		}),
	}
}

func (a *NginxAdapter) Mode() models.BackendMode { return models.ModeNginx }

func (a *NginxAdapter) Controller() ProcessController { return a.controller }

func (a *NginxAdapter) Render(hosts []models.ProxyHost) (string, error) {
	return render.Nginx(hosts)
}

// Setup verifies ports 80/443 can be bound before the first start. A running
// nginx already holds them, which is fine.
func (a *NginxAdapter) Setup(ctx context.Context, state *models.BackendState) error {
	if a.controller.Status() == models.StatusRunning {
		return nil
	}
	return process.PortsFree(80, 443)
}

func (a *NginxAdapter) RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}

func (a *NginxAdapter) UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}
