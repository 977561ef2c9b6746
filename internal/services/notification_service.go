package services

import (
	"fmt"
	"regexp"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/models"
)

// Event types routed to external providers.
const (
	EventHost    = "host"
	EventBackend = "backend"
	EventTest    = "test"
)

// NotificationService stores in-app notifications and fans events out to
// external providers over shoutrrr.
type NotificationService struct {
	db *gorm.DB

	// sendFunc is swapped in tests to avoid real deliveries.
	sendFunc func(url, message string) error
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db, sendFunc: sendShoutrrr}
}

func sendShoutrrr(url, message string) error {
	return shoutrrr.Send(url, message)
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL converts plain webhook URLs into shoutrrr service URLs where
// the service has a known webhook shape.
func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
		}
	}
	return rawURL
}

// Create stores an in-app notification.
func (s *NotificationService) Create(nType models.NotificationType, title, message string) (*models.Notification, error) {
	n := &models.Notification{Type: nType, Title: title, Message: message}
	return n, s.db.Create(n).Error
}

// List returns notifications newest first, optionally unread only.
func (s *NotificationService) List(unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.db.Order("created_at desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	return notifications, query.Find(&notifications).Error
}

func (s *NotificationService) MarkAsRead(id string) error {
	return s.db.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

func (s *NotificationService) MarkAllAsRead() error {
	return s.db.Model(&models.Notification{}).Where("read = ?", false).Update("read", true).Error
}

// SendExternal stores the event as an in-app notification and delivers it to
// every enabled provider subscribed to the event type. Delivery is
// fire-and-forget; failures are logged, never surfaced to the caller.
func (s *NotificationService) SendExternal(eventType, title, message string) {
	nType := models.NotificationTypeInfo
	if eventType == EventBackend {
		nType = models.NotificationTypeWarning
	}
	if _, err := s.Create(nType, title, message); err != nil {
		logger.Log().WithError(err).Error("store notification")
	}

	var providers []models.NotificationProvider
	if err := s.db.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Error("fetch notification providers")
		return
	}

	for _, provider := range providers {
		switch eventType {
		case EventHost:
			if !provider.NotifyHosts {
				continue
			}
		case EventBackend:
			if !provider.NotifyBackend {
				continue
			}
		}

		go func(p models.NotificationProvider) {
			url := normalizeURL(p.Type, p.URL)
			if err := s.sendFunc(url, fmt.Sprintf("%s\n\n%s", title, message)); err != nil {
				logger.WithFields(map[string]interface{}{
					"provider": p.Name,
				}).WithError(err).Error("send external notification")
			}
		}(provider)
	}
}

// TestProvider sends a test message through a provider configuration.
func (s *NotificationService) TestProvider(provider models.NotificationProvider) error {
	url := normalizeURL(provider.Type, provider.URL)
	return s.sendFunc(url, "Test notification from Bridge")
}

// Provider management.

func (s *NotificationService) ListProviders() ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	return providers, s.db.Find(&providers).Error
}

func (s *NotificationService) CreateProvider(provider *models.NotificationProvider) error {
	return s.db.Create(provider).Error
}

func (s *NotificationService) UpdateProvider(provider *models.NotificationProvider) error {
	return s.db.Save(provider).Error
}

func (s *NotificationService) DeleteProvider(id string) error {
	return s.db.Delete(&models.NotificationProvider{}, "id = ?", id).Error
}
