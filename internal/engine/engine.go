// Package engine coordinates the proxy core across the two supervision
// modes: a user-level daemon reached over IPC, and an OS-managed system
// service reached through the service manager and the core's own HTTP API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/coreapi"
	"github.com/net2share/proxyman/internal/coreconfig"
	"github.com/net2share/proxyman/internal/ipc"
	"github.com/net2share/proxyman/internal/port"
	"github.com/net2share/proxyman/internal/process"
	"github.com/net2share/proxyman/internal/service"
)

// Supervision modes.
const (
	ModeUser    = "user"
	ModeService = "service"
)

const (
	stopGrace             = 5 * time.Second
	defaultVerifyInterval = 500 * time.Millisecond
	defaultSettleDelay    = 500 * time.Millisecond
	defaultPortSettle     = 200 * time.Millisecond
	serviceEnableSettle   = 300 * time.Millisecond

	userVerifyAttempts    = 6
	serviceVerifyAttempts = 30
)

var (
	// ErrTransitionInProgress is returned when a mode switch is requested
	// while another one has not finished yet.
	ErrTransitionInProgress = errors.New("a mode transition is already in progress")

	// ErrNoActiveConfig is returned by operations that need a previously
	// recorded core configuration.
	ErrNoActiveConfig = errors.New("no core configuration recorded; start the core first")
)

// DaemonController is the slice of the IPC client the engine drives.
type DaemonController interface {
	GetVersion() (string, error)
	StartCore(cfg ipc.CoreConfig) error
	StopCore() error
	RestartCore() error
	ReloadConfig(path string) error
	GetStatus() (*ipc.CoreStatus, error)
	GetLogs(limit int) ([]ipc.LogEntry, error)
	ClearLogs() error
	IsRunning() (bool, error)
	Ping() error
	Shutdown() error
}

var _ DaemonController = (*ipc.Client)(nil)

// CoreAPI talks to the core's external controller endpoint.
type CoreAPI interface {
	Version(ctx context.Context) (string, error)
	Ready(ctx context.Context) bool
	Reload(ctx context.Context, path string) error
	Mode(ctx context.Context) (string, error)
	SetMode(ctx context.Context, mode string) error
}

var _ CoreAPI = (*coreapi.Client)(nil)

// APIFactory builds a CoreAPI for the given controller endpoint.
type APIFactory func(host string, port int, secret string) CoreAPI

// Probes answers questions about local processes and ports.
type Probes interface {
	ListeningPID(port int) int
	Alive(pid int) bool
	Terminate(pid int, grace time.Duration) error
	WaitFree(port int, timeout time.Duration) bool
}

type sysProbes struct{}

func (sysProbes) ListeningPID(p int) int { return port.ListeningPID(p) }

func (sysProbes) Alive(pid int) bool { return process.IsAlive(pid) }

func (sysProbes) Terminate(pid int, grace time.Duration) error {
	return process.Terminate(pid, grace)
}

func (sysProbes) WaitFree(p int, timeout time.Duration) bool {
	return port.WaitFree(p, timeout)
}

// Deps carries the engine's collaborators. Zero fields get working
// defaults in New, except Settings which falls back to config.Default.
type Deps struct {
	Settings  *config.Settings
	Daemon    DaemonController
	Ensure    func() error // forks the user daemon when it is not up
	Service   service.Controller
	API       APIFactory
	Probes    Probes
	CorePath  func() (string, error)
	StatePath string
	Logger    *slog.Logger
}

// Engine is the mode supervisor. All operations are safe for concurrent
// use; mode switches additionally exclude each other.
type Engine struct {
	settings  *config.Settings
	daemon    DaemonController
	ensure    func() error
	svc       service.Controller
	api       APIFactory
	probes    Probes
	corePath  func() (string, error)
	statePath string
	log       *slog.Logger

	verifyInterval time.Duration
	settleDelay    time.Duration
	portSettle     time.Duration

	transition atomic.Bool

	mu    sync.Mutex
	state State
}

// New builds an Engine from deps, filling in defaults for anything unset.
func New(deps Deps) *Engine {
	e := &Engine{
		settings:       deps.Settings,
		daemon:         deps.Daemon,
		ensure:         deps.Ensure,
		svc:            deps.Service,
		api:            deps.API,
		probes:         deps.Probes,
		corePath:       deps.CorePath,
		statePath:      deps.StatePath,
		log:            deps.Logger,
		verifyInterval: defaultVerifyInterval,
		settleDelay:    defaultSettleDelay,
		portSettle:     defaultPortSettle,
	}
	if e.settings == nil {
		e.settings = config.Default()
	}
	if e.daemon == nil {
		e.daemon = ipc.NewDefault()
	}
	if e.ensure == nil {
		e.ensure = func() error { return nil }
	}
	if e.svc == nil {
		e.svc = service.New()
	}
	if e.api == nil {
		e.api = func(host string, port int, secret string) CoreAPI {
			return coreapi.New(host, port, secret)
		}
	}
	if e.probes == nil {
		e.probes = sysProbes{}
	}
	if e.corePath == nil {
		e.corePath = func() (string, error) {
			return "", errors.New("core binary path not configured")
		}
	}
	if e.statePath == "" {
		e.statePath = config.StatePath()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.state = loadState(e.statePath)
	if e.state.Mode == "" {
		if e.settings.Mode != "" {
			e.state.Mode = e.settings.Mode
		} else {
			e.state.Mode = ModeUser
		}
	}
	return e
}

// Mode reports the current supervision mode.
func (e *Engine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode
}

// ActiveConfigPath reports the core configuration currently in effect,
// falling back to the configured default when nothing was recorded yet.
func (e *Engine) ActiveConfigPath() string {
	e.mu.Lock()
	recorded := e.state.ConfigPath
	e.mu.Unlock()
	if recorded != "" {
		return recorded
	}
	if e.settings.Core.Config != "" {
		return e.settings.Core.Config
	}
	return config.DefaultCoreConfigPath()
}

// apiEndpoint resolves the core controller endpoint from the active core
// configuration, falling back to the application settings.
func (e *Engine) apiEndpoint() (string, int, string) {
	e.mu.Lock()
	cfgPath := e.state.ConfigPath
	e.mu.Unlock()
	if cfgPath == "" {
		cfgPath = e.settings.Core.Config
	}
	if cfgPath != "" {
		if f, err := coreconfig.Load(cfgPath); err == nil {
			if host, p, ok := f.Controller(); ok {
				return host, p, f.Secret
			}
		}
	}
	return e.settings.APIHost(), e.settings.APIPort(), e.settings.API.Secret
}

// Start launches the core with the given configuration in the current
// mode. An empty path reuses the recorded (or default) configuration.
func (e *Engine) Start(configPath string) error {
	if configPath == "" {
		configPath = e.ActiveConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %s", configPath)
	}
	if err := coreconfig.Validate(configPath); err != nil {
		return err
	}

	e.mu.Lock()
	e.state.ConfigPath = configPath
	e.state.ManuallyStopped = false
	mode := e.state.Mode
	if err := saveState(e.statePath, e.state); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if mode == ModeService {
		return e.startService(configPath)
	}
	return e.startUser(configPath)
}

func (e *Engine) startUser(configPath string) error {
	corePath, err := e.corePath()
	if err != nil {
		return err
	}
	if err := e.ensure(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	workDir := e.settings.Core.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(configPath)
	}
	if err := e.daemon.StartCore(ipc.CoreConfig{
		ConfigPath: configPath,
		CorePath:   corePath,
		ConfigDir:  workDir,
	}); err != nil {
		return err
	}
	return e.verifySurvived(ModeUser)
}

func (e *Engine) startService(configPath string) error {
	if !e.svc.Installed() {
		return service.ErrNotInstalled
	}
	if err := e.writeSystemConfig(configPath); err != nil {
		return err
	}
	if !e.svc.Loaded() {
		if err := e.svc.Enable(); err != nil {
			return err
		}
		time.Sleep(serviceEnableSettle)
	} else {
		host, p, secret := e.apiEndpoint()
		if err := e.api(host, p, secret).Reload(context.Background(), e.svc.SystemConfigPath()); err != nil {
			e.log.Warn("reload via api failed, restarting service", "error", err)
			if rerr := e.svc.Restart(); rerr != nil {
				return rerr
			}
		}
	}
	return e.verifySurvived(ModeService)
}

// writeSystemConfig validates configPath and copies it to the location
// the system service reads from. Writing there usually needs elevated
// privileges.
func (e *Engine) writeSystemConfig(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if _, err := coreconfig.Parse(data); err != nil {
		return err
	}
	dst := e.svc.SystemConfigPath()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s (elevated privileges may be required): %w", dst, err)
	}
	return nil
}

// Stop halts the core in the current mode and records the operator's
// intent so background checks do not report a stopped core as running.
func (e *Engine) Stop() error {
	e.mu.Lock()
	mode := e.state.Mode
	e.mu.Unlock()

	host, p, secret := e.apiEndpoint()

	if mode == ModeService && e.svc.Loaded() {
		if err := e.silentStopService(host, p, secret); err != nil {
			e.log.Warn("silent stop failed, disabling service", "error", err)
			if derr := e.svc.Disable(); derr != nil {
				return fmt.Errorf("failed to stop service core: %w", derr)
			}
		}
		e.probes.WaitFree(p, e.portSettle)
	} else {
		e.stopUserSide(p)
	}

	e.mu.Lock()
	e.state.ManuallyStopped = true
	e.state.LegacyPID = 0
	err := saveState(e.statePath, e.state)
	e.mu.Unlock()
	return err
}

// stopUserSide stops the daemon-managed core and any adopted process
// without touching the manual-stop flag.
func (e *Engine) stopUserSide(p int) {
	if err := e.daemon.StopCore(); err != nil && !errors.Is(err, ipc.ErrUnavailable) {
		e.log.Warn("stop core via daemon failed", "error", err)
	}
	e.mu.Lock()
	pid := e.state.LegacyPID
	e.state.LegacyPID = 0
	e.mu.Unlock()
	if pid > 0 && e.probes.Alive(pid) {
		if err := e.probes.Terminate(pid, stopGrace); err != nil {
			e.log.Warn("failed to stop adopted core", "pid", pid, "error", err)
		}
	}
	e.probes.WaitFree(p, e.portSettle)
}

// silentStopService parks the service core on a minimal idle
// configuration so stopping does not require elevated privileges.
func (e *Engine) silentStopService(host string, p int, secret string) error {
	stopPath := config.StopConfigPath()
	if err := coreconfig.WriteIdle(stopPath, host, p, secret); err != nil {
		return err
	}
	return e.api(host, p, secret).Reload(context.Background(), stopPath)
}

// Restart stops the core and starts it again with the recorded
// configuration.
func (e *Engine) Restart() error {
	e.mu.Lock()
	cfgPath := e.state.ConfigPath
	e.mu.Unlock()
	if cfgPath == "" {
		return ErrNoActiveConfig
	}
	if err := e.Stop(); err != nil {
		return err
	}
	time.Sleep(e.settleDelay)
	return e.Start(cfgPath)
}

// Reload applies a configuration to the running core without a full
// restart where possible. An empty path reuses the recorded one.
func (e *Engine) Reload(path string) error {
	e.mu.Lock()
	mode := e.state.Mode
	recorded := e.state.ConfigPath
	e.mu.Unlock()
	if path == "" {
		path = recorded
	}
	if path == "" {
		return ErrNoActiveConfig
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file not found: %s", path)
	}
	if err := coreconfig.Validate(path); err != nil {
		return err
	}

	host, p, secret := e.apiEndpoint()
	if mode == ModeService {
		if !e.svc.Installed() {
			return service.ErrNotInstalled
		}
		if err := e.writeSystemConfig(path); err != nil {
			return err
		}
		if err := e.api(host, p, secret).Reload(context.Background(), e.svc.SystemConfigPath()); err != nil {
			e.log.Warn("reload via api failed, restarting service", "error", err)
			if rerr := e.svc.Restart(); rerr != nil {
				return rerr
			}
		}
	} else {
		if err := e.api(host, p, secret).Reload(context.Background(), path); err != nil {
			if derr := e.daemon.ReloadConfig(path); derr != nil {
				return derr
			}
		}
	}

	e.mu.Lock()
	e.state.ConfigPath = path
	err := saveState(e.statePath, e.state)
	e.mu.Unlock()
	return err
}

// IsRunning reports whether a supervised core instance is up. The checks
// go from cheapest to most expensive and stop at the first positive.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	manuallyStopped := e.state.ManuallyStopped
	mode := e.state.Mode
	legacyPID := e.state.LegacyPID
	e.mu.Unlock()

	if manuallyStopped {
		return false
	}
	if mode == ModeService && e.svc.Loaded() {
		return true
	}
	if running, err := e.daemon.IsRunning(); err == nil && running {
		return true
	}
	if legacyPID > 0 && e.probes.Alive(legacyPID) {
		return true
	}
	_, p, _ := e.apiEndpoint()
	return e.probes.ListeningPID(p) > 0
}

// Status describes the supervised core for display.
type Status struct {
	Running         bool
	Mode            string
	PID             int
	UptimeSecs      uint64
	ConfigPath      string
	LastError       string
	APIEndpoint     string
	CoreVersion     string
	DaemonVersion   string
	ManuallyStopped bool
}

// Status gathers everything known about the core. Probe failures leave
// the corresponding fields empty rather than failing the whole call.
func (e *Engine) Status() *Status {
	e.mu.Lock()
	st := &Status{
		Mode:            e.state.Mode,
		ConfigPath:      e.state.ConfigPath,
		ManuallyStopped: e.state.ManuallyStopped,
		PID:             e.state.LegacyPID,
	}
	e.mu.Unlock()

	host, p, secret := e.apiEndpoint()
	st.APIEndpoint = fmt.Sprintf("%s:%d", host, p)

	if cs, err := e.daemon.GetStatus(); err == nil {
		if cs.Running {
			st.Running = true
			if cs.PID != nil {
				st.PID = int(*cs.PID)
			}
			if cs.UptimeSecs != nil {
				st.UptimeSecs = *cs.UptimeSecs
			}
		}
		if cs.ConfigPath != nil && st.ConfigPath == "" {
			st.ConfigPath = *cs.ConfigPath
		}
		if cs.LastError != nil {
			st.LastError = *cs.LastError
		}
	}
	if v, err := e.daemon.GetVersion(); err == nil {
		st.DaemonVersion = v
	}

	if !st.Running {
		st.Running = e.IsRunning()
	}
	if st.Running {
		if v, err := e.api(host, p, secret).Version(context.Background()); err == nil {
			st.CoreVersion = v
		}
	}
	return st
}

// Logs fetches recent core output from the daemon.
func (e *Engine) Logs(limit int) ([]ipc.LogEntry, error) {
	return e.daemon.GetLogs(limit)
}

// ClearLogs discards the daemon's log buffer.
func (e *Engine) ClearLogs() error {
	return e.daemon.ClearLogs()
}

// ProxyMode reads the core's traffic-handling mode over its HTTP API.
func (e *Engine) ProxyMode() (string, error) {
	host, p, secret := e.apiEndpoint()
	return e.api(host, p, secret).Mode(context.Background())
}

// SetProxyMode switches the core's traffic handling between rule, global
// and direct. The core has to be running.
func (e *Engine) SetProxyMode(mode string) error {
	switch mode {
	case "rule", "global", "direct":
	default:
		return fmt.Errorf("unknown proxy mode: %s", mode)
	}
	if !e.IsRunning() {
		return errors.New("core is not running")
	}
	host, p, secret := e.apiEndpoint()
	return e.api(host, p, secret).SetMode(context.Background(), mode)
}
