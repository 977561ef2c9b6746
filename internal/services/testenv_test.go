package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
)

var testDBSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:services%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ProxyHost{}, &models.RewriteRule{}, &models.BackendState{},
		&models.Account{}, &models.Session{},
		&models.Notification{}, &models.NotificationProvider{},
	))
	return db
}

type stubController struct {
	mu       sync.Mutex
	status   models.ProcessStatus
	config   string
	startErr error
}

func (f *stubController) Install(ctx context.Context) error { return nil }

func (f *stubController) Start(ctx context.Context, configText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.status = models.StatusFailed
		return f.startErr
	}
	if f.status == models.StatusRunning {
		return errdefs.ErrAlreadyRunning
	}
	f.config = configText
	f.status = models.StatusRunning
	return nil
}

func (f *stubController) Reload(ctx context.Context, configText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = configText
	return nil
}

func (f *stubController) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == models.StatusRunning {
		f.status = models.StatusStopped
	}
	return nil
}

func (f *stubController) Status() models.ProcessStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *stubController) LastError() string   { return "" }
func (f *stubController) ConfigPath() string  { return "" }
func (f *stubController) Logs(n int) []string { return nil }

func (f *stubController) currentConfig() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

type stubAdapter struct {
	mode         models.BackendMode
	ctl          *stubController
	registerErr  error
	registered   []string
	unregistered []string
}

func (a *stubAdapter) Mode() models.BackendMode               { return a.mode }
func (a *stubAdapter) Controller() backends.ProcessController { return a.ctl }

func (a *stubAdapter) Render(hosts []models.ProxyHost) (string, error) {
	out := ""
	for _, h := range hosts {
		out += h.Domain + " -> " + h.UpstreamAddr() + "\n"
	}
	return out, nil
}

func (a *stubAdapter) Setup(ctx context.Context, state *models.BackendState) error { return nil }

func (a *stubAdapter) RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	if a.registerErr != nil {
		return a.registerErr
	}
	a.registered = append(a.registered, host.Domain)
	return nil
}

func (a *stubAdapter) UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	a.unregistered = append(a.unregistered, host.Domain)
	return nil
}

// newTestEnv builds a DB, a manager over a single stub adapter and a
// notification service with deliveries captured instead of sent.
func newTestEnv(t *testing.T, mode models.BackendMode) (*gorm.DB, *backends.Manager, *stubAdapter, *NotificationService) {
	t.Helper()

	db := newTestDB(t)
	adapter := &stubAdapter{mode: mode, ctl: &stubController{status: models.StatusStopped}}
	manager := backends.NewManager(db, adapter)

	if mode != "" {
		state, err := manager.State()
		require.NoError(t, err)
		state.ActiveMode = mode
		state.SetupState = models.SetupConfigured
		require.NoError(t, db.Save(state).Error)
	}

	notifier := NewNotificationService(db)
	notifier.sendFunc = func(url, message string) error { return nil }
	return db, manager, adapter, notifier
}
