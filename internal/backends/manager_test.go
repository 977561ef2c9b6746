package backends

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/models"
)

type fakeController struct {
	mu          sync.Mutex
	status      models.ProcessStatus
	config      string
	configPath  string
	lastErr     string
	startCalls  int
	reloadCalls int
	startErr    error
	reloadErr   error

	// Hooks fire mid-operation so tests can interleave concurrent writers.
	stopHook   func()
	statusHook func()
}

func (f *fakeController) Install(ctx context.Context) error { return nil }

func (f *fakeController) Start(ctx context.Context, configText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		f.lastErr = f.startErr.Error()
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

func (f *fakeController) Reload(ctx context.Context, configText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadCalls++
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.config = configText
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == models.StatusRunning {
		f.status = models.StatusStopped
	}
	if f.stopHook != nil {
		f.stopHook()
	}
	return nil
}

func (f *fakeController) Status() models.ProcessStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusHook != nil {
		f.statusHook()
	}
	return f.status
}

func (f *fakeController) LastError() string   { return f.lastErr }
func (f *fakeController) ConfigPath() string  { return f.configPath }
func (f *fakeController) Logs(n int) []string { return nil }

type fakeAdapter struct {
	mode     models.BackendMode
	ctl      *fakeController
	setupErr error
}

func (a *fakeAdapter) Mode() models.BackendMode      { return a.mode }
func (a *fakeAdapter) Controller() ProcessController { return a.ctl }
func (a *fakeAdapter) Render(hosts []models.ProxyHost) (string, error) {
	out := "hosts:\n"
	for _, h := range hosts {
		out += h.Domain + " -> " + h.UpstreamAddr() + "\n"
	}
	return out, nil
}
func (a *fakeAdapter) Setup(ctx context.Context, state *models.BackendState) error {
	return a.setupErr
}
func (a *fakeAdapter) RegisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}
func (a *fakeAdapter) UnregisterHost(ctx context.Context, state *models.BackendState, host *models.ProxyHost) error {
	return nil
}

var testDBSeq int

func testManager(t *testing.T, mode models.BackendMode) (*Manager, *fakeAdapter, *gorm.DB) {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:backends%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ProxyHost{}, &models.RewriteRule{}, &models.BackendState{}))

	adapter := &fakeAdapter{
		mode: mode,
		ctl:  &fakeController{status: models.StatusStopped, configPath: t.TempDir() + "/config"},
	}
	m := NewManager(db, adapter)

	if mode != "" {
		state, err := m.State()
		require.NoError(t, err)
		state.ActiveMode = mode
		state.SetupState = models.SetupConfigured
		require.NoError(t, db.Save(state).Error)
	}
	return m, adapter, db
}

func seedHost(t *testing.T, db *gorm.DB, domain string, mode models.BackendMode) *models.ProxyHost {
	t.Helper()
	host := &models.ProxyHost{
		Domain:       domain,
		UpstreamHost: "127.0.0.1",
		UpstreamPort: 3000,
		BackendMode:  mode,
		Enabled:      true,
	}
	require.NoError(t, db.Create(host).Error)
	return host
}

func TestApplyStartsAndAdvancesVersion(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)

	require.NoError(t, m.Apply(context.Background()))

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.ConfigVersion)
	assert.Equal(t, uint64(1), state.AppliedVersion)
	assert.Equal(t, models.StatusRunning, state.ProcessStatus)
	assert.Equal(t, models.SetupActive, state.SetupState)
	assert.Contains(t, adapter.ctl.config, "app.example.com")
	assert.Equal(t, 1, adapter.ctl.startCalls)

	// A second apply reloads the running process instead of restarting.
	require.NoError(t, m.Apply(context.Background()))
	state, err = m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.ConfigVersion)
	assert.Equal(t, 1, adapter.ctl.startCalls)
	assert.Equal(t, 1, adapter.ctl.reloadCalls)
}

func TestApplyConcurrentVersionsAreMonotonic(t *testing.T) {
	m, _, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Apply(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(n), state.ConfigVersion)
	assert.Equal(t, state.ConfigVersion, state.AppliedVersion)
}

func TestApplyFailureLeavesVersionUnchanged(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)

	require.NoError(t, m.Apply(context.Background()))

	adapter.ctl.reloadErr = fmt.Errorf("%w: config rejected", errdefs.ErrConfigInvalid)
	err := m.Apply(context.Background())
	require.ErrorIs(t, err, errdefs.ErrConfigInvalid)

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.ConfigVersion)
	assert.NotEmpty(t, state.LastError)
}

func TestApplyWithoutModeSelected(t *testing.T) {
	m, _, _ := testManager(t, "")

	err := m.Apply(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestApplySetupFailure(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeNginx)
	seedHost(t, db, "app.example.com", models.ModeNginx)

	adapter.setupErr = fmt.Errorf("%w: port 80 busy", errdefs.ErrConflict)
	err := m.Apply(context.Background())
	require.ErrorIs(t, err, errdefs.ErrConflict)

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.ConfigVersion)
	assert.Equal(t, 0, adapter.ctl.startCalls)
}

func TestProbeStatusReportsTransitionOnce(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)
	require.NoError(t, m.Apply(context.Background()))

	adapter.ctl.mu.Lock()
	adapter.ctl.status = models.StatusFailed
	adapter.ctl.lastErr = "exited unexpectedly"
	adapter.ctl.mu.Unlock()

	status, failedNow, err := m.ProbeStatus()
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)
	assert.True(t, failedNow)

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, "exited unexpectedly", state.LastError)

	_, failedNow, err = m.ProbeStatus()
	require.NoError(t, err)
	assert.False(t, failedNow)
}

func TestStopPreservesConcurrentVersionBump(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)
	require.NoError(t, m.Apply(context.Background()))

	// An apply that finishes between Stop's state read and its write must
	// not be overwritten by the stale snapshot.
	adapter.ctl.stopHook = func() {
		require.NoError(t, db.Model(&models.BackendState{ID: 1}).Update("config_version", 5).Error)
	}
	require.NoError(t, m.Stop(context.Background()))

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.ConfigVersion)
	assert.Equal(t, models.StatusStopped, state.ProcessStatus)
}

func TestProbeStatusPreservesConcurrentVersionBump(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)
	require.NoError(t, m.Apply(context.Background()))

	adapter.ctl.mu.Lock()
	adapter.ctl.status = models.StatusFailed
	adapter.ctl.lastErr = "exited unexpectedly"
	adapter.ctl.mu.Unlock()
	adapter.ctl.statusHook = func() {
		require.NoError(t, db.Model(&models.BackendState{ID: 1}).Update("config_version", 7).Error)
	}

	_, failedNow, err := m.ProbeStatus()
	require.NoError(t, err)
	assert.True(t, failedNow)

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), state.ConfigVersion)
	assert.Equal(t, models.StatusFailed, state.ProcessStatus)
	assert.Equal(t, "exited unexpectedly", state.LastError)
}

func TestReconcileOnBootReappliesOnDrift(t *testing.T) {
	m, adapter, db := testManager(t, models.ModeCaddy)
	seedHost(t, db, "app.example.com", models.ModeCaddy)
	require.NoError(t, m.Apply(context.Background()))

	orig := readFileFunc
	defer func() { readFileFunc = orig }()

	// On-disk config matches what the host set renders to: no reapply.
	rendered, err := adapter.Render(mustHosts(t, m, models.ModeCaddy))
	require.NoError(t, err)
	readFileFunc = func(string) ([]byte, error) { return []byte(rendered), nil }
	require.NoError(t, m.ReconcileOnBoot(context.Background()))
	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.ConfigVersion)

	// Stale config on disk triggers a fresh apply.
	readFileFunc = func(string) ([]byte, error) { return []byte("stale"), nil }
	require.NoError(t, m.ReconcileOnBoot(context.Background()))
	state, err = m.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.ConfigVersion)
}

func TestReconcileOnBootSkipsWhenInactive(t *testing.T) {
	m, adapter, _ := testManager(t, models.ModeCaddy)

	orig := readFileFunc
	defer func() { readFileFunc = orig }()
	readFileFunc = func(string) ([]byte, error) { return nil, os.ErrNotExist }

	require.NoError(t, m.ReconcileOnBoot(context.Background()))
	assert.Equal(t, 0, adapter.ctl.startCalls)
}

func mustHosts(t *testing.T, m *Manager, mode models.BackendMode) []models.ProxyHost {
	t.Helper()
	hosts, err := m.hostsForMode(mode)
	require.NoError(t, err)
	return hosts
}
