package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/metrics"
	"github.com/ezbridge/bridge/internal/models"
)

// Test hook for reading the applied config during reconciliation.
var readFileFunc = os.ReadFile

// Manager owns the backend adapters, serializes configuration applies per
// mode, and persists BackendState including the monotonic config version.
type Manager struct {
	db       *gorm.DB
	adapters map[models.BackendMode]Adapter

	// One mutex per mode: apply is single-flight, config_version only
	// advances while it is held.
	applyMu map[models.BackendMode]*sync.Mutex
}

// NewManager builds a manager over the given adapters.
func NewManager(db *gorm.DB, adapters ...Adapter) *Manager {
	m := &Manager{
		db:       db,
		adapters: make(map[models.BackendMode]Adapter, len(adapters)),
		applyMu:  make(map[models.BackendMode]*sync.Mutex, len(adapters)),
	}
	for _, a := range adapters {
		m.adapters[a.Mode()] = a
		m.applyMu[a.Mode()] = &sync.Mutex{}
	}
	return m
}

// Adapter returns the adapter for a mode.
func (m *Manager) Adapter(mode models.BackendMode) (Adapter, error) {
	a, ok := m.adapters[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for mode %q", errdefs.ErrValidation, mode)
	}
	return a, nil
}

// State loads the singleton BackendState row, creating it on first use.
func (m *Manager) State() (*models.BackendState, error) {
	var state models.BackendState
	if err := m.db.FirstOrCreate(&state, models.BackendState{ID: 1}).Error; err != nil {
		return nil, fmt.Errorf("load backend state: %w", err)
	}
	return &state, nil
}

// ActiveAdapter resolves the adapter for the currently selected mode.
func (m *Manager) ActiveAdapter() (Adapter, *models.BackendState, error) {
	state, err := m.State()
	if err != nil {
		return nil, nil, err
	}
	if state.ActiveMode == "" {
		return nil, nil, fmt.Errorf("%w: no backend mode selected", errdefs.ErrConflict)
	}
	a, err := m.Adapter(state.ActiveMode)
	if err != nil {
		return nil, nil, err
	}
	return a, state, nil
}

// hostsForMode loads hosts of a mode in stable submission order with their
// rewrites ordered by position, so rendering is deterministic.
func (m *Manager) hostsForMode(mode models.BackendMode) ([]models.ProxyHost, error) {
	var hosts []models.ProxyHost
	err := m.db.
		Preload("Rewrites", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("backend_mode = ?", mode).
		Order("id asc").
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("fetch proxy hosts: %w", err)
	}
	return hosts, nil
}

// Apply renders the current host set for the active mode, validates it and
// starts or reloads the backend as one logical transaction. On any failure
// the previously applied config stays active and the version is unchanged.
func (m *Manager) Apply(ctx context.Context) error {
	adapter, state, err := m.ActiveAdapter()
	if err != nil {
		return err
	}

	mu := m.applyMu[adapter.Mode()]
	mu.Lock()
	defer mu.Unlock()

	// Re-read state under the lock: a concurrent apply may have advanced it.
	state, err = m.State()
	if err != nil {
		return err
	}

	hosts, err := m.hostsForMode(adapter.Mode())
	if err != nil {
		return err
	}

	configText, err := adapter.Render(hosts)
	if err != nil {
		return err
	}

	if err := adapter.Setup(ctx, state); err != nil {
		return err
	}

	ctl := adapter.Controller()
	if ctl.Status() == models.StatusRunning {
		err = ctl.Reload(ctx, configText)
	} else {
		err = ctl.Start(ctx, configText)
		if errors.Is(err, errdefs.ErrAlreadyRunning) {
			err = ctl.Reload(ctx, configText)
		}
	}

	// State writes are column-scoped throughout: saving the full row would
	// resurrect a snapshot taken before a concurrent writer's update.
	if err != nil {
		if saveErr := m.db.Model(&models.BackendState{ID: 1}).Updates(map[string]interface{}{
			"last_error":     err.Error(),
			"process_status": ctl.Status(),
		}).Error; saveErr != nil {
			logger.Log().WithError(saveErr).Error("persist backend state after failed apply")
		}
		metrics.IncApply(string(adapter.Mode()), "error")
		return err
	}

	state.ConfigVersion++
	state.AppliedVersion = state.ConfigVersion
	state.ProcessStatus = models.StatusRunning
	state.LastError = ""
	if state.SetupState == models.SetupConfigured || state.SetupState == models.SetupModeChosen {
		state.SetupState = models.SetupActive
	}
	if err := m.db.Model(&models.BackendState{ID: 1}).Updates(map[string]interface{}{
		"config_version":  state.ConfigVersion,
		"applied_version": state.AppliedVersion,
		"process_status":  state.ProcessStatus,
		"last_error":      "",
		"setup_state":     state.SetupState,
	}).Error; err != nil {
		return fmt.Errorf("persist backend state: %w", err)
	}

	metrics.IncApply(string(adapter.Mode()), "ok")
	metrics.SetConfigVersion(state.ConfigVersion)
	metrics.SetProcessStatus(string(adapter.Mode()), state.ProcessStatus.MetricValue())

	logger.WithFields(map[string]interface{}{
		"mode":    adapter.Mode(),
		"version": state.ConfigVersion,
		"hosts":   len(hosts),
	}).Info("configuration applied")
	return nil
}

// Install downloads the active backend's binary if absent.
func (m *Manager) Install(ctx context.Context) error {
	adapter, state, err := m.ActiveAdapter()
	if err != nil {
		return err
	}
	if err := adapter.Controller().Install(ctx); err != nil {
		return err
	}
	if state.ProcessStatus == models.StatusNotInstalled {
		if err := m.db.Model(&models.BackendState{ID: 1}).
			Update("process_status", models.StatusStopped).Error; err != nil {
			return fmt.Errorf("persist backend state: %w", err)
		}
	}
	return nil
}

// Start applies the current configuration, starting the process if needed.
func (m *Manager) Start(ctx context.Context) error {
	return m.Apply(ctx)
}

// Stop terminates the active backend process. Idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	adapter, _, err := m.ActiveAdapter()
	if err != nil {
		return err
	}
	if err := adapter.Controller().Stop(ctx); err != nil {
		return err
	}
	status := adapter.Controller().Status()
	metrics.SetProcessStatus(string(adapter.Mode()), status.MetricValue())
	return m.db.Model(&models.BackendState{ID: 1}).
		Update("process_status", status).Error
}

// ProbeStatus refreshes the persisted process status from the controller and
// reports a transition into StatusFailed, used by the cron health sweep.
func (m *Manager) ProbeStatus() (models.ProcessStatus, bool, error) {
	adapter, state, err := m.ActiveAdapter()
	if err != nil {
		return "", false, err
	}

	status := adapter.Controller().Status()
	failedNow := status == models.StatusFailed && state.ProcessStatus != models.StatusFailed

	if status != state.ProcessStatus {
		updates := map[string]interface{}{"process_status": status}
		if status == models.StatusFailed {
			updates["last_error"] = adapter.Controller().LastError()
		}
		if err := m.db.Model(&models.BackendState{ID: 1}).Updates(updates).Error; err != nil {
			return status, failedNow, err
		}
	}
	metrics.SetProcessStatus(string(adapter.Mode()), status.MetricValue())
	return status, failedNow, nil
}

// ReconcileOnBoot re-renders the persisted host set and reapplies it when the
// on-disk config diverges, restoring consistency after an ungraceful restart.
func (m *Manager) ReconcileOnBoot(ctx context.Context) error {
	state, err := m.State()
	if err != nil {
		return err
	}
	if state.SetupState != models.SetupActive || state.ActiveMode == "" {
		return nil
	}

	adapter, err := m.Adapter(state.ActiveMode)
	if err != nil {
		return err
	}

	hosts, err := m.hostsForMode(state.ActiveMode)
	if err != nil {
		return err
	}
	want, err := adapter.Render(hosts)
	if err != nil {
		return err
	}

	got, err := readFileFunc(adapter.Controller().ConfigPath())
	if err == nil && string(got) == want {
		logger.Log().Debug("on-disk config matches persisted hosts, no reconcile needed")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"mode": state.ActiveMode,
	}).Info("on-disk config diverged, reapplying")
	return m.Apply(ctx)
}
