package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/util"
)

// HostService manages proxy host records and keeps the active backend's
// configuration in sync with them.
type HostService struct {
	db       *gorm.DB
	manager  *backends.Manager
	notifier *NotificationService
}

func NewHostService(db *gorm.DB, manager *backends.Manager, notifier *NotificationService) *HostService {
	return &HostService{db: db, manager: manager, notifier: notifier}
}

// List returns all hosts with their rewrites in position order.
func (s *HostService) List() ([]models.ProxyHost, error) {
	var hosts []models.ProxyHost
	err := s.db.
		Preload("Rewrites", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Order("id asc").
		Find(&hosts).Error
	return hosts, err
}

// GetByDomain fetches a host by its normalized domain.
func (s *HostService) GetByDomain(domain string) (*models.ProxyHost, error) {
	var host models.ProxyHost
	err := s.db.
		Preload("Rewrites", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("domain = ?", util.NormalizeDomain(domain)).
		First(&host).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: host %q", errdefs.ErrNotFound, util.SanitizeForLog(domain))
		}
		return nil, err
	}
	return &host, nil
}

func (s *HostService) validate(host *models.ProxyHost, state *models.BackendState) error {
	host.Domain = util.NormalizeDomain(host.Domain)
	if !util.ValidDomain(host.Domain) {
		return fmt.Errorf("%w: invalid domain %q", errdefs.ErrValidation, util.SanitizeForLog(host.Domain))
	}
	if !util.ValidPort(host.UpstreamPort) {
		return fmt.Errorf("%w: invalid upstream port %d", errdefs.ErrValidation, host.UpstreamPort)
	}
	if host.UpstreamHost == "" {
		return fmt.Errorf("%w: upstream host is required", errdefs.ErrValidation)
	}
	if state.ActiveMode == "" {
		return fmt.Errorf("%w: select a backend mode before adding hosts", errdefs.ErrConflict)
	}
	if host.BackendMode == "" {
		host.BackendMode = state.ActiveMode
	}
	if host.BackendMode != state.ActiveMode {
		return fmt.Errorf("%w: host mode %q does not match active mode %q", errdefs.ErrValidation, host.BackendMode, state.ActiveMode)
	}
	return nil
}

// Create validates and persists a host, registers it with the backend
// (DNS record for tunnel mode) and applies the regenerated config. A failed
// registration or apply rolls the record back and leaves the config version
// untouched.
func (s *HostService) Create(ctx context.Context, host *models.ProxyHost) error {
	state, err := s.manager.State()
	if err != nil {
		return err
	}
	if err := s.validate(host, state); err != nil {
		return err
	}

	var count int64
	if err := s.db.Model(&models.ProxyHost{}).Where("domain = ?", host.Domain).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: domain %q already exists", errdefs.ErrConflict, host.Domain)
	}

	if err := s.db.Create(host).Error; err != nil {
		return err
	}

	adapter, err := s.manager.Adapter(host.BackendMode)
	if err != nil {
		return err
	}
	if err := adapter.RegisterHost(ctx, state, host); err != nil {
		if delErr := s.db.Select("Rewrites").Delete(host).Error; delErr != nil {
			logger.Log().WithError(delErr).Error("roll back host record after failed registration")
		}
		return err
	}

	if err := s.manager.Apply(ctx); err != nil {
		if unregErr := adapter.UnregisterHost(ctx, state, host); unregErr != nil {
			logger.Log().WithError(unregErr).Warn("unregister host after failed apply")
		}
		if delErr := s.db.Select("Rewrites").Delete(host).Error; delErr != nil {
			logger.Log().WithError(delErr).Error("roll back host record after failed apply")
		}
		return err
	}

	s.notifier.SendExternal(EventHost, "Host added",
		fmt.Sprintf("%s now forwards to %s", host.Domain, host.UpstreamAddr()))
	return nil
}

// Update rewrites the mutable fields of a host and reapplies the config.
// Domain and backend mode are fixed at creation.
func (s *HostService) Update(ctx context.Context, domain string, updates *models.ProxyHost) (*models.ProxyHost, error) {
	host, err := s.GetByDomain(domain)
	if err != nil {
		return nil, err
	}

	if updates.UpstreamHost != "" {
		host.UpstreamHost = updates.UpstreamHost
	}
	if updates.UpstreamPort != 0 {
		if !util.ValidPort(updates.UpstreamPort) {
			return nil, fmt.Errorf("%w: invalid upstream port %d", errdefs.ErrValidation, updates.UpstreamPort)
		}
		host.UpstreamPort = updates.UpstreamPort
	}
	host.AuthEnabled = updates.AuthEnabled
	host.WebsocketEnabled = updates.WebsocketEnabled
	host.Enabled = updates.Enabled
	host.Description = updates.Description

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("proxy_host_id = ?", host.ID).Delete(&models.RewriteRule{}).Error; err != nil {
			return err
		}
		host.Rewrites = nil
		for i, r := range updates.Rewrites {
			host.Rewrites = append(host.Rewrites, models.RewriteRule{
				ProxyHostID: host.ID,
				FromPath:    r.FromPath,
				ToPath:      r.ToPath,
				Position:    i,
			})
		}
		return tx.Save(host).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.manager.Apply(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

// Delete removes the host record together with its rewrites and external
// registration, then regenerates the config so no orphaned rule survives.
func (s *HostService) Delete(ctx context.Context, domain string) error {
	host, err := s.GetByDomain(domain)
	if err != nil {
		return err
	}

	state, err := s.manager.State()
	if err != nil {
		return err
	}
	adapter, err := s.manager.Adapter(host.BackendMode)
	if err != nil {
		return err
	}
	if err := adapter.UnregisterHost(ctx, state, host); err != nil {
		// The DNS record may already be gone; removal of the local rule
		// still has to proceed.
		logger.Log().WithError(err).Warn("unregister host from backend")
	}

	if err := s.db.Select("Rewrites").Delete(host).Error; err != nil {
		return err
	}

	if err := s.manager.Apply(ctx); err != nil {
		return err
	}

	s.notifier.SendExternal(EventHost, "Host removed",
		fmt.Sprintf("%s no longer forwards to %s", host.Domain, host.UpstreamAddr()))
	return nil
}

// RenderedConfig returns the config text the active backend would receive for
// the current host set, without applying it.
func (s *HostService) RenderedConfig() (string, error) {
	adapter, state, err := s.manager.ActiveAdapter()
	if err != nil {
		return "", err
	}
	var hosts []models.ProxyHost
	err = s.db.
		Preload("Rewrites", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("backend_mode = ?", state.ActiveMode).
		Order("id asc").
		Find(&hosts).Error
	if err != nil {
		return "", err
	}
	return adapter.Render(hosts)
}
