// Package process supervises a single long-lived backend binary: install,
// start, stop, status and reload. It owns the OS process handle and the
// on-disk config file; nothing else writes to either.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/models"
)

// Test hooks to allow overriding OS and exec functions.
var (
	writeFileFunc  = os.WriteFile
	renameFunc     = os.Rename
	statFunc       = os.Stat
	removeFileFunc = os.Remove
	chmodFunc      = os.Chmod
	runCommandFunc = runCommand
	spawnFunc      = spawn
	listenFunc     = net.Listen
	httpClient     = &http.Client{}
)

const (
	maxLogLines   = 200
	spawnRetryMax = 1
)

// Tunable in tests.
var (
	spawnRetryGap = 500 * time.Millisecond
	startupProbe  = 2 * time.Second
)

// Spec describes how to drive one backend binary.
type Spec struct {
	// Name of the backend, used in logs and error messages.
	Name string
	// BinaryPath is where the installed binary lives.
	BinaryPath string
	// DownloadURL fetches the binary when absent.
	DownloadURL string
	// ConfigPath is where rendered configuration is written.
	ConfigPath string
	// StartArgs builds the foreground-run argv for a config path.
	StartArgs func(configPath string) []string
	// ValidateArgs builds the dry-run syntax-check argv; nil when the backend
	// has no validate mode.
	ValidateArgs func(configPath string) []string
	// ReloadArgs builds the hot-reload argv; nil when hot reload is
	// unsupported and reload falls back to stop+start.
	ReloadArgs func(configPath string) []string
}

// Controller supervises the process described by its Spec.
type Controller struct {
	spec Spec

	mu      sync.Mutex
	proc    procHandle
	lastErr string

	install singleflight.Group

	logMu  sync.Mutex
	logBuf []string
}

// NewController creates a controller for the given backend spec.
func NewController(spec Spec) *Controller {
	return &Controller{spec: spec}
}

// ConfigPath exposes the config file location owned by this controller.
func (c *Controller) ConfigPath() string { return c.spec.ConfigPath }

// Installed reports whether the backend binary is present.
func (c *Controller) Installed() bool {
	info, err := statFunc(c.spec.BinaryPath)
	return err == nil && !info.IsDir()
}

// Install fetches the backend binary if absent. Concurrent callers share a
// single download; a cancelled or failed download leaves no partial binary.
func (c *Controller) Install(ctx context.Context) error {
	if c.Installed() {
		return nil
	}

	_, err, _ := c.install.Do("install", func() (interface{}, error) {
		if c.Installed() {
			return nil, nil
		}
		return nil, c.download(ctx)
	})
	return err
}

func (c *Controller) download(ctx context.Context) error {
	if c.spec.DownloadURL == "" {
		return fmt.Errorf("%w: %s has no download source, install it with the system package manager", errdefs.ErrProcess, c.spec.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.spec.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build download request: %v", errdefs.ErrProcess, err)
	}

	logger.WithFields(map[string]interface{}{
		"backend": c.spec.Name,
		"url":     c.spec.DownloadURL,
	}).Info("downloading backend binary")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", errdefs.ErrProcess, c.spec.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: unexpected status %s", errdefs.ErrProcess, c.spec.Name, resp.Status)
	}

	tmp := c.spec.BinaryPath + ".download"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("%w: create temp binary: %v", errdefs.ErrProcess, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = removeFileFunc(tmp)
		return fmt.Errorf("%w: write binary: %v", errdefs.ErrProcess, err)
	}
	if err := f.Close(); err != nil {
		_ = removeFileFunc(tmp)
		return fmt.Errorf("%w: close binary: %v", errdefs.ErrProcess, err)
	}
	if err := chmodFunc(tmp, 0o755); err != nil {
		_ = removeFileFunc(tmp)
		return fmt.Errorf("%w: chmod binary: %v", errdefs.ErrProcess, err)
	}

	// Rename last so an interrupted download never leaves a half-written
	// binary at the final path.
	if err := renameFunc(tmp, c.spec.BinaryPath); err != nil {
		_ = removeFileFunc(tmp)
		return fmt.Errorf("%w: install binary: %v", errdefs.ErrProcess, err)
	}
	return nil
}

// Status probes the supervised process. It never returns an error; ambiguous
// results degrade to StatusFailed.
func (c *Controller) Status() models.ProcessStatus {
	if !c.Installed() {
		return models.StatusNotInstalled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		if c.proc.Alive() {
			return models.StatusRunning
		}
		// The process exited without Stop being called.
		c.proc = nil
		c.lastErr = fmt.Sprintf("%s exited unexpectedly: %s", c.spec.Name, c.lastLogLine())
	}
	if c.lastErr != "" {
		return models.StatusFailed
	}
	return models.StatusStopped
}

// LastError returns the most recent process failure message for display.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start writes config atomically, validates it with the backend's own dry-run
// mode where supported, then launches the process. Transient spawn failures
// are retried once.
func (c *Controller) Start(ctx context.Context, configText string) error {
	if !c.Installed() {
		return fmt.Errorf("%w: %s is not installed", errdefs.ErrProcess, c.spec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil && c.proc.Alive() {
		return fmt.Errorf("%w: %s", errdefs.ErrAlreadyRunning, c.spec.Name)
	}

	if err := c.commitConfig(ctx, configText); err != nil {
		return err
	}
	return c.launch(ctx)
}

// commitConfig validates candidate config against a temp file and renames it
// into place. The previously applied file is never truncated in place.
func (c *Controller) commitConfig(ctx context.Context, configText string) error {
	tmp := c.spec.ConfigPath + ".next"
	if err := writeFileFunc(tmp, []byte(configText), 0o644); err != nil {
		return fmt.Errorf("%w: write config: %v", errdefs.ErrProcess, err)
	}

	if c.spec.ValidateArgs != nil {
		args := c.spec.ValidateArgs(tmp)
		if out, err := runCommandFunc(ctx, c.spec.BinaryPath, args...); err != nil {
			_ = removeFileFunc(tmp)
			return fmt.Errorf("%w: %s rejected config: %s", errdefs.ErrConfigInvalid, c.spec.Name, lastLine(out))
		}
	}

	if err := renameFunc(tmp, c.spec.ConfigPath); err != nil {
		_ = removeFileFunc(tmp)
		return fmt.Errorf("%w: commit config: %v", errdefs.ErrProcess, err)
	}
	return nil
}

// launch spawns the process and polls briefly for an immediate crash.
// Callers must hold c.mu.
func (c *Controller) launch(ctx context.Context) error {
	args := c.spec.StartArgs(c.spec.ConfigPath)

	var proc procHandle
	var err error
	for attempt := 0; attempt <= spawnRetryMax; attempt++ {
		proc, err = spawnFunc(c.spec.BinaryPath, args, c.addLog)
		if err == nil {
			break
		}
		if attempt < spawnRetryMax {
			logger.WithFields(map[string]interface{}{
				"backend": c.spec.Name,
			}).WithError(err).Warn("spawn failed, retrying once")
			select {
			case <-time.After(spawnRetryGap):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", errdefs.ErrProcess, ctx.Err())
			}
		}
	}
	if err != nil {
		c.lastErr = err.Error()
		return fmt.Errorf("%w: spawn %s: %v", errdefs.ErrProcess, c.spec.Name, err)
	}

	// Bounded poll for an immediate exit (bad token, port in use, ...).
	deadline := time.Now().Add(startupProbe)
	for time.Now().Before(deadline) {
		if !proc.Alive() {
			c.lastErr = fmt.Sprintf("%s exited during startup: %s", c.spec.Name, c.lastLogLine())
			return fmt.Errorf("%w: %s", errdefs.ErrProcess, c.lastErr)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			_ = proc.Terminate(context.Background())
			return fmt.Errorf("%w: %v", errdefs.ErrProcess, ctx.Err())
		}
	}

	c.proc = proc
	c.lastErr = ""
	logger.WithFields(map[string]interface{}{"backend": c.spec.Name}).Info("backend process started")
	return nil
}

// Reload validates then hot-reloads where supported, falling back to
// stop+start. A running process keeps its previous config if validation fails.
func (c *Controller) Reload(ctx context.Context, configText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil || !c.proc.Alive() {
		if !c.Installed() {
			return fmt.Errorf("%w: %s is not installed", errdefs.ErrProcess, c.spec.Name)
		}
		if err := c.commitConfig(ctx, configText); err != nil {
			return err
		}
		return c.launch(ctx)
	}

	if err := c.commitConfig(ctx, configText); err != nil {
		return err
	}

	if c.spec.ReloadArgs != nil {
		args := c.spec.ReloadArgs(c.spec.ConfigPath)
		if out, err := runCommandFunc(ctx, c.spec.BinaryPath, args...); err == nil {
			logger.WithFields(map[string]interface{}{"backend": c.spec.Name}).Info("backend reloaded")
			return nil
		} else {
			logger.WithFields(map[string]interface{}{
				"backend": c.spec.Name,
				"output":  lastLine(out),
			}).WithError(err).Warn("hot reload failed, falling back to restart")
		}
	}

	if err := c.stopLocked(ctx); err != nil {
		return err
	}
	return c.launch(ctx)
}

// Stop terminates the process. Stopping an already-stopped backend succeeds.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	if c.proc == nil || !c.proc.Alive() {
		// An explicit stop acknowledges a crashed process.
		c.proc = nil
		c.lastErr = ""
		return nil
	}

	if err := c.proc.Terminate(ctx); err != nil {
		c.lastErr = err.Error()
		return fmt.Errorf("%w: stop %s: %v", errdefs.ErrProcess, c.spec.Name, err)
	}

	c.proc = nil
	c.lastErr = ""
	logger.WithFields(map[string]interface{}{"backend": c.spec.Name}).Info("backend process stopped")
	return nil
}

// Logs returns the last n lines of process output.
func (c *Controller) Logs(n int) []string {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if n <= 0 || n > len(c.logBuf) {
		n = len(c.logBuf)
	}
	out := make([]string, n)
	copy(out, c.logBuf[len(c.logBuf)-n:])
	return out
}

func (c *Controller) addLog(line string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logBuf = append(c.logBuf, line)
	if len(c.logBuf) > maxLogLines {
		c.logBuf = c.logBuf[len(c.logBuf)-maxLogLines:]
	}
}

func (c *Controller) lastLogLine() string {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logBuf) == 0 {
		return "no output"
	}
	return c.logBuf[len(c.logBuf)-1]
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "no output"
	}
	lines := strings.Split(s, "\n")
	return lines[len(lines)-1]
}

// runCommand executes a short-lived backend command (validate, reload) with a
// bounded timeout and returns combined output.
func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, bin, args...).CombinedOutput()
}

// procHandle abstracts a spawned process so tests can substitute fakes.
type procHandle interface {
	Alive() bool
	Terminate(ctx context.Context) error
}

type osProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func spawn(bin string, args []string, onLine func(string)) (procHandle, error) {
	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &osProc{cmd: cmd, done: make(chan struct{})}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				onLine(line)
			}
		}
	}()
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *osProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM and escalates to SIGKILL if the process does not
// exit within the context deadline (default 10s).
func (p *osProc) Terminate(ctx context.Context) error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		<-p.done
		return nil
	}
}

// PortsFree reports whether the given TCP ports can be bound locally. Used by
// the nginx adapter's pre-bind check before first start.
func PortsFree(ports ...int) error {
	for _, port := range ports {
		ln, err := listenFunc("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("%w: port %d is not free", errdefs.ErrProcess, port)
		}
		_ = ln.Close()
	}
	return nil
}
