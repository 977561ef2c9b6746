package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/models"
)

// ModeSettings carries the mode-specific prerequisites collected during setup.
type ModeSettings struct {
	TunnelToken        string `json:"tunnel_token"`
	PublicIP           string `json:"public_ip"`
	CloudflareAPIToken string `json:"cloudflare_api_token"`
	CloudflareZoneID   string `json:"cloudflare_zone_id"`
}

// ModeService drives the deployment setup state machine:
// unselected -> mode_chosen -> configured -> active.
type ModeService struct {
	db       *gorm.DB
	manager  *backends.Manager
	notifier *NotificationService
}

func NewModeService(db *gorm.DB, manager *backends.Manager, notifier *NotificationService) *ModeService {
	return &ModeService{db: db, manager: manager, notifier: notifier}
}

// State exposes the singleton backend state.
func (s *ModeService) State() (*models.BackendState, error) {
	return s.manager.State()
}

// Select picks the deployment's backend mode. Allowed once; switching an
// already selected mode requires a Reset first. Selecting the current mode
// again is a no-op.
func (s *ModeService) Select(mode string) (*models.BackendState, error) {
	if !models.ValidMode(mode) {
		return nil, fmt.Errorf("%w: unknown backend mode %q", errdefs.ErrValidation, mode)
	}

	state, err := s.manager.State()
	if err != nil {
		return nil, err
	}

	if state.ActiveMode == models.BackendMode(mode) {
		return state, nil
	}
	if state.ActiveMode != "" {
		var count int64
		if err := s.db.Model(&models.ProxyHost{}).Where("backend_mode = ?", state.ActiveMode).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: %d hosts exist under mode %q, reset first", errdefs.ErrConflict, count, state.ActiveMode)
		}
	}

	state.ActiveMode = models.BackendMode(mode)
	state.SetupState = models.SetupModeChosen
	if err := s.db.Model(&models.BackendState{ID: 1}).Updates(map[string]interface{}{
		"active_mode": state.ActiveMode,
		"setup_state": state.SetupState,
	}).Error; err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{"mode": mode}).Info("backend mode selected")
	return state, nil
}

// Configure stores the mode prerequisites and advances to configured once
// they are satisfied. The tunnel mode requires its connector token.
func (s *ModeService) Configure(settings ModeSettings) (*models.BackendState, error) {
	state, err := s.manager.State()
	if err != nil {
		return nil, err
	}
	if state.SetupState == models.SetupUnselected {
		return nil, fmt.Errorf("%w: select a backend mode first", errdefs.ErrConflict)
	}

	// Only the columns this request touches are written, so a concurrent
	// apply's version bump cannot be overwritten by this state snapshot.
	updates := map[string]interface{}{}
	if settings.TunnelToken != "" {
		state.TunnelToken = settings.TunnelToken
		updates["tunnel_token"] = settings.TunnelToken
	}
	if settings.PublicIP != "" {
		state.PublicIP = settings.PublicIP
		updates["public_ip"] = settings.PublicIP
	}
	if settings.CloudflareAPIToken != "" {
		state.CloudflareAPIToken = settings.CloudflareAPIToken
		updates["cloudflare_api_token"] = settings.CloudflareAPIToken
	}
	if settings.CloudflareZoneID != "" {
		state.CloudflareZoneID = settings.CloudflareZoneID
		updates["cloudflare_zone_id"] = settings.CloudflareZoneID
	}

	if state.ActiveMode == models.ModeCloudflareTunnel && state.TunnelToken == "" {
		return nil, fmt.Errorf("%w: tunnel mode requires a connector token", errdefs.ErrValidation)
	}

	if state.SetupState == models.SetupModeChosen {
		state.SetupState = models.SetupConfigured
		updates["setup_state"] = models.SetupConfigured
	}
	if len(updates) > 0 {
		if err := s.db.Model(&models.BackendState{ID: 1}).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Reset destroys the current deployment mode: the backend process is stopped,
// every host of the previous mode is deleted and the state machine returns to
// unselected. Irreversible.
func (s *ModeService) Reset(ctx context.Context) (*models.BackendState, error) {
	state, err := s.manager.State()
	if err != nil {
		return nil, err
	}
	if state.ActiveMode == "" {
		return state, nil
	}

	if adapter, aerr := s.manager.Adapter(state.ActiveMode); aerr == nil {
		if err := adapter.Controller().Stop(ctx); err != nil {
			logger.Log().WithError(err).Warn("stop backend during mode reset")
		}
	}

	previous := state.ActiveMode
	err = s.db.Transaction(func(tx *gorm.DB) error {
		hostIDs := tx.Model(&models.ProxyHost{}).Select("id").Where("backend_mode = ?", previous)
		if err := tx.Where("proxy_host_id IN (?)", hostIDs).Delete(&models.RewriteRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("backend_mode = ?", previous).Delete(&models.ProxyHost{}).Error; err != nil {
			return err
		}
		state.ActiveMode = ""
		state.SetupState = models.SetupUnselected
		state.ProcessStatus = models.StatusStopped
		state.LastError = ""
		state.TunnelToken = ""
		return tx.Model(&models.BackendState{ID: 1}).Updates(map[string]interface{}{
			"active_mode":    "",
			"setup_state":    models.SetupUnselected,
			"process_status": models.StatusStopped,
			"last_error":     "",
			"tunnel_token":   "",
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.notifier.SendExternal(EventBackend, "Mode reset",
		fmt.Sprintf("Backend mode %s was reset, all of its hosts were removed", previous))
	return state, nil
}
