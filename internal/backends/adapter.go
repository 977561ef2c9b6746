// Package backends models the three mutually exclusive connectivity modes
// behind one contract and owns the apply lifecycle for the active one.
package backends

import (
	"context"

	"github.com/ezbridge/bridge/internal/models"
)

// ProcessController is the slice of the process supervisor the manager needs.
// Satisfied by *process.Controller.
type ProcessController interface {
	Install(ctx context.Context) error
	Start(ctx context.Context, configText string) error
	Reload(ctx context.Context, configText string) error
	Stop(ctx context.Context) error
	Status() models.ProcessStatus
	LastError() string
	ConfigPath() string
	Logs(n int) []string
}

// Adapter is the single contract shared by the three backend variants. Each
// variant composes a config renderer with a process controller and adds its
// own setup step.
type Adapter interface {
	// Mode identifies the backend family.
	Mode() models.BackendMode
	// Controller owns the backend binary and its config file.
	Controller() ProcessController
	// Render produces the backend-specific config text for the host set.
	Render(hosts []models.ProxyHost) (string, error)
	// Setup checks mode prerequisites before the backend may run.
	Setup(ctx context.Context, state *models.BackendState) error
	// RegisterHost performs external registration for a new host (DNS record
	// creation for tunnel mode). A no-op for the direct backends.
	RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error
	// UnregisterHost reverses RegisterHost on host deletion.
	UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error
}
