package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
)

func TestCreateHostAppliesConfig(t *testing.T) {
	db, manager, adapter, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{
		Domain:       "App.Example.COM",
		UpstreamHost: "127.0.0.1",
		UpstreamPort: 3000,
		Enabled:      true,
	}
	require.NoError(t, svc.Create(context.Background(), host))

	assert.Equal(t, "app.example.com", host.Domain)
	assert.Equal(t, models.ModeCaddy, host.BackendMode)
	assert.Contains(t, adapter.ctl.currentConfig(), "app.example.com -> 127.0.0.1:3000")

	state, err := manager.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.ConfigVersion)
}

func TestCreateHostRejectsInvalidInput(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	cases := []models.ProxyHost{
		{Domain: "not a domain!", UpstreamHost: "127.0.0.1", UpstreamPort: 3000},
		{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 0},
		{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 70000},
		{Domain: "app.example.com", UpstreamPort: 3000},
	}
	for _, host := range cases {
		err := svc.Create(context.Background(), &host)
		assert.ErrorIs(t, err, errdefs.ErrValidation)
	}

	var count int64
	require.NoError(t, db.Model(&models.ProxyHost{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateHostDuplicateDomain(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	first := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 3000, Enabled: true}
	require.NoError(t, svc.Create(context.Background(), first))

	dup := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 4000}
	err := svc.Create(context.Background(), dup)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	var count int64
	require.NoError(t, db.Model(&models.ProxyHost{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateHostModeMismatch(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{
		Domain:       "app.example.com",
		UpstreamHost: "127.0.0.1",
		UpstreamPort: 3000,
		BackendMode:  models.ModeNginx,
	}
	err := svc.Create(context.Background(), host)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestCreateHostRollsBackOnRegistrationFailure(t *testing.T) {
	db, manager, adapter, notifier := newTestEnv(t, models.ModeCloudflareTunnel)
	adapter.registerErr = fmt.Errorf("%w: dns api unreachable", errdefs.ErrExternalService)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 3000}
	err := svc.Create(context.Background(), host)
	require.ErrorIs(t, err, errdefs.ErrExternalService)

	var count int64
	require.NoError(t, db.Model(&models.ProxyHost{}).Count(&count).Error)
	assert.Zero(t, count)

	state, err := manager.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.ConfigVersion)
}

func TestCreateHostRollsBackOnFailedApply(t *testing.T) {
	db, manager, adapter, notifier := newTestEnv(t, models.ModeCaddy)
	adapter.ctl.startErr = fmt.Errorf("%w: spawn caddy: exec format error", errdefs.ErrProcess)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 3000, Enabled: true}
	err := svc.Create(context.Background(), host)
	require.ErrorIs(t, err, errdefs.ErrProcess)

	// The committed record is rolled back, as if the request never happened.
	var count int64
	require.NoError(t, db.Model(&models.ProxyHost{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, []string{"app.example.com"}, adapter.unregistered)

	state, err := manager.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.ConfigVersion)
}

func TestDeleteHostRegeneratesConfig(t *testing.T) {
	db, manager, adapter, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 3000, Enabled: true}
	require.NoError(t, svc.Create(context.Background(), host))

	require.NoError(t, svc.Delete(context.Background(), "app.example.com"))

	_, err := svc.GetByDomain("app.example.com")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.NotContains(t, adapter.ctl.currentConfig(), "app.example.com")
	assert.Equal(t, []string{"app.example.com"}, adapter.unregistered)

	state, err := manager.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.ConfigVersion)
}

func TestDeleteHostNotFound(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	err := svc.Delete(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestUpdateHostReplacesRewrites(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{
		Domain:       "app.example.com",
		UpstreamHost: "127.0.0.1",
		UpstreamPort: 3000,
		Enabled:      true,
		Rewrites: []models.RewriteRule{
			{FromPath: "/old", ToPath: "/new", Position: 0},
		},
	}
	require.NoError(t, svc.Create(context.Background(), host))

	updated, err := svc.Update(context.Background(), "app.example.com", &models.ProxyHost{
		Enabled: true,
		Rewrites: []models.RewriteRule{
			{FromPath: "/a", ToPath: "/b"},
			{FromPath: "/c", ToPath: "/d"},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Rewrites, 2)
	assert.Equal(t, "/a", updated.Rewrites[0].FromPath)
	assert.Equal(t, 1, updated.Rewrites[1].Position)

	var count int64
	require.NoError(t, db.Model(&models.RewriteRule{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRenderedConfigDoesNotApply(t *testing.T) {
	db, manager, _, notifier := newTestEnv(t, models.ModeCaddy)
	svc := NewHostService(db, manager, notifier)

	host := &models.ProxyHost{Domain: "app.example.com", UpstreamHost: "127.0.0.1", UpstreamPort: 3000, Enabled: true}
	require.NoError(t, svc.Create(context.Background(), host))

	text, err := svc.RenderedConfig()
	require.NoError(t, err)
	assert.Contains(t, text, "app.example.com")

	state, err := manager.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.ConfigVersion)
}
