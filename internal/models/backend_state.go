package models

import (
	"time"
)

// SetupState tracks deployment setup progress for the mode selector.
type SetupState string

const (
	SetupUnselected SetupState = "unselected"
	SetupModeChosen SetupState = "mode_chosen"
	SetupConfigured SetupState = "configured"
	SetupActive     SetupState = "active"
)

// ProcessStatus is the observed lifecycle state of the backend process.
type ProcessStatus string

const (
	StatusNotInstalled ProcessStatus = "not_installed"
	StatusStopped      ProcessStatus = "stopped"
	StatusRunning      ProcessStatus = "running"
	StatusFailed       ProcessStatus = "failed"
)

// MetricValue maps a process status onto the numeric scale exported by metrics.
func (s ProcessStatus) MetricValue() int {
	switch s {
	case StatusStopped:
		return 1
	case StatusRunning:
		return 2
	case StatusFailed:
		return 3
	default:
		return 0
	}
}

// BackendState is the process-wide singleton governing which backend mode is
// active and which rendered configuration was last applied.
type BackendState struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	ActiveMode    BackendMode   `json:"active_mode"`
	SetupState    SetupState    `json:"setup_state" gorm:"default:'unselected'"`
	ProcessStatus ProcessStatus `json:"process_status" gorm:"default:'not_installed'"`

	// ConfigVersion strictly increases on every successful render+apply.
	ConfigVersion uint64 `json:"config_version" gorm:"default:0"`
	// AppliedVersion records the version running in the backend process.
	AppliedVersion uint64 `json:"applied_version" gorm:"default:0"`
	LastError      string `json:"last_error"`

	// Tunnel mode settings.
	TunnelToken string `json:"-"`

	// DNS settings used for record sync (tunnel and nginx modes).
	PublicIP           string `json:"public_ip"`
	CloudflareAPIToken string `json:"-"`
	CloudflareZoneID   string `json:"cloudflare_zone_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
