package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbridge/bridge/internal/models"
)

func TestNormalizeURLDiscordWebhook(t *testing.T) {
	url := normalizeURL("discord", "https://discord.com/api/webhooks/12345/abc_def-123")
	assert.Equal(t, "discord://abc_def-123@12345", url)

	// Non-discord URLs pass through untouched.
	raw := "gotify://gotify.example.com/token"
	assert.Equal(t, raw, normalizeURL("gotify", raw))
}

func TestSendExternalFiltersByEventType(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db)

	var mu sync.Mutex
	var sent []string
	svc.sendFunc = func(url, message string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, url)
		return nil
	}

	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{
		Name: "hosts-only", Type: "generic", URL: "generic://hosts.example.com",
		Enabled: true, NotifyHosts: true, NotifyBackend: false,
	}))
	require.NoError(t, svc.CreateProvider(&models.NotificationProvider{
		Name: "disabled", Type: "generic", URL: "generic://off.example.com",
		Enabled: false, NotifyHosts: true, NotifyBackend: true,
	}))

	svc.SendExternal(EventBackend, "Backend failed", "caddy exited")

	// Delivery is async; give the goroutines a moment.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, sent)
	mu.Unlock()

	svc.SendExternal(EventHost, "Host added", "a.example.com")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"generic://hosts.example.com"}, sent)
	mu.Unlock()

	// Both events were stored as in-app notifications regardless of providers.
	list, err := svc.List(false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMarkNotificationsRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db)

	n, err := svc.Create(models.NotificationTypeInfo, "Hello", "World")
	require.NoError(t, err)
	_, err = svc.Create(models.NotificationTypeError, "Oops", "Broke")
	require.NoError(t, err)

	unread, err := svc.List(true)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, svc.MarkAsRead(n.ID))
	unread, err = svc.List(true)
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	require.NoError(t, svc.MarkAllAsRead())
	unread, err = svc.List(true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
