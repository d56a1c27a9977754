package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/ipc"
	"github.com/net2share/proxyman/internal/service"
)

// The fakes below are driven synchronously from the test goroutine, so
// they get away without locking.

type fakeDaemon struct {
	running     bool
	started     []ipc.CoreConfig
	stops       int
	restarts    int
	reloads     []string
	logs        []ipc.LogEntry
	lastLimit   int
	cleared     int
	shutdowns   int
	version     string
	status      *ipc.CoreStatus
	startErr    error
	reloadErr   error
	statusErr   error
	unavailable bool
}

func (d *fakeDaemon) errUnavailable() error {
	return fmt.Errorf("%w: no daemon", ipc.ErrUnavailable)
}

func (d *fakeDaemon) GetVersion() (string, error) {
	if d.unavailable {
		return "", d.errUnavailable()
	}
	return d.version, nil
}

func (d *fakeDaemon) StartCore(cfg ipc.CoreConfig) error {
	if d.unavailable {
		return d.errUnavailable()
	}
	if d.startErr != nil {
		return d.startErr
	}
	d.started = append(d.started, cfg)
	d.running = true
	return nil
}

func (d *fakeDaemon) StopCore() error {
	d.stops++
	if d.unavailable {
		return d.errUnavailable()
	}
	d.running = false
	return nil
}

func (d *fakeDaemon) RestartCore() error {
	d.restarts++
	return nil
}

func (d *fakeDaemon) ReloadConfig(path string) error {
	if d.reloadErr != nil {
		return d.reloadErr
	}
	d.reloads = append(d.reloads, path)
	return nil
}

func (d *fakeDaemon) GetStatus() (*ipc.CoreStatus, error) {
	if d.unavailable {
		return nil, d.errUnavailable()
	}
	if d.statusErr != nil {
		return nil, d.statusErr
	}
	if d.status != nil {
		return d.status, nil
	}
	return &ipc.CoreStatus{Running: d.running}, nil
}

func (d *fakeDaemon) GetLogs(limit int) ([]ipc.LogEntry, error) {
	if d.unavailable {
		return nil, d.errUnavailable()
	}
	d.lastLimit = limit
	return d.logs, nil
}

func (d *fakeDaemon) ClearLogs() error {
	d.cleared++
	return nil
}

func (d *fakeDaemon) IsRunning() (bool, error) {
	if d.unavailable {
		return false, d.errUnavailable()
	}
	return d.running, nil
}

func (d *fakeDaemon) Ping() error {
	if d.unavailable {
		return d.errUnavailable()
	}
	return nil
}

func (d *fakeDaemon) Shutdown() error {
	d.shutdowns++
	return nil
}

type fakeService struct {
	installed  bool
	loaded     bool
	enables    int
	disables   int
	restarts   int
	installs   []string
	uninstalls int
	unitPath   string
	configPath string
	enableErr  error
	onEnable   func()
}

func (s *fakeService) Installed() bool { return s.installed }
func (s *fakeService) Loaded() bool    { return s.loaded }

func (s *fakeService) Enable() error {
	if s.enableErr != nil {
		return s.enableErr
	}
	s.enables++
	s.loaded = true
	if s.onEnable != nil {
		s.onEnable()
	}
	return nil
}

func (s *fakeService) Disable() error {
	s.disables++
	s.loaded = false
	return nil
}

func (s *fakeService) Restart() error {
	s.restarts++
	return nil
}

func (s *fakeService) Install(corePath string) error {
	s.installs = append(s.installs, corePath)
	s.installed = true
	return nil
}

func (s *fakeService) Uninstall() error {
	s.uninstalls++
	s.installed = false
	return nil
}

func (s *fakeService) UnitPath() string         { return s.unitPath }
func (s *fakeService) SystemConfigPath() string { return s.configPath }

type fakeAPI struct {
	ready      bool
	version    string
	versionErr error
	reloads    []string
	reloadErr  error
	mode       string
	setModes   []string
}

func (a *fakeAPI) Version(ctx context.Context) (string, error) {
	if a.versionErr != nil {
		return "", a.versionErr
	}
	return a.version, nil
}

func (a *fakeAPI) Ready(ctx context.Context) bool { return a.ready }

func (a *fakeAPI) Reload(ctx context.Context, path string) error {
	if a.reloadErr != nil {
		return a.reloadErr
	}
	a.reloads = append(a.reloads, path)
	return nil
}

func (a *fakeAPI) Mode(ctx context.Context) (string, error) {
	return a.mode, nil
}

func (a *fakeAPI) SetMode(ctx context.Context, mode string) error {
	a.setModes = append(a.setModes, mode)
	return nil
}

type fakeProbes struct {
	listening map[int]int
	alive     map[int]bool
	termed    []int
}

func newFakeProbes() *fakeProbes {
	return &fakeProbes{listening: map[int]int{}, alive: map[int]bool{}}
}

func (p *fakeProbes) ListeningPID(port int) int { return p.listening[port] }
func (p *fakeProbes) Alive(pid int) bool        { return p.alive[pid] }

func (p *fakeProbes) Terminate(pid int, grace time.Duration) error {
	p.termed = append(p.termed, pid)
	p.alive[pid] = false
	for port, owner := range p.listening {
		if owner == pid {
			delete(p.listening, port)
		}
	}
	return nil
}

func (p *fakeProbes) WaitFree(port int, timeout time.Duration) bool { return true }

const testControllerPort = 29090

type fixture struct {
	eng       *Engine
	daemon    *fakeDaemon
	svc       *fakeService
	api       *fakeAPI
	probes    *fakeProbes
	cfgPath   string
	corePath  string
	statePath string
	ensures   int
	ensureErr error

	apiSecret string
}

// newFixture wires an engine against fakes inside an isolated HOME, with
// the polling knobs shrunk so verification loops finish in milliseconds.
// Callers must not use t.Parallel because of t.Setenv.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	cfgPath := filepath.Join(tmp, "config.yaml")
	content := fmt.Sprintf("external-controller: 127.0.0.1:%d\nsecret: 's3'\nmode: rule\n", testControllerPort)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0640))

	settings := config.Default()
	settings.Core.Config = cfgPath

	f := &fixture{
		daemon:    &fakeDaemon{version: "test-1.0"},
		svc:       &fakeService{unitPath: filepath.Join(tmp, "core.service"), configPath: filepath.Join(tmp, "system", "config.yaml")},
		api:       &fakeAPI{ready: true, version: "v1.19.2", mode: "rule"},
		probes:    newFakeProbes(),
		cfgPath:   cfgPath,
		corePath:  filepath.Join(tmp, "mihomo"),
		statePath: filepath.Join(tmp, "state.json"),
	}

	f.eng = New(Deps{
		Settings: settings,
		Daemon:   f.daemon,
		Ensure: func() error {
			f.ensures++
			return f.ensureErr
		},
		Service: f.svc,
		API: func(host string, port int, secret string) CoreAPI {
			f.apiSecret = secret
			return f.api
		},
		Probes:    f.probes,
		CorePath:  func() (string, error) { return f.corePath, nil },
		StatePath: f.statePath,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.eng.verifyInterval = time.Millisecond
	f.eng.settleDelay = time.Millisecond
	f.eng.portSettle = time.Millisecond
	return f
}

func (f *fixture) setState(mut func(*State)) {
	f.eng.mu.Lock()
	mut(&f.eng.state)
	f.eng.mu.Unlock()
}

func TestStartUserMode(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.eng.Start(f.cfgPath))

	require.Len(t, f.daemon.started, 1)
	launch := f.daemon.started[0]
	assert.Equal(t, f.cfgPath, launch.ConfigPath)
	assert.Equal(t, f.corePath, launch.CorePath)
	assert.Equal(t, filepath.Dir(f.cfgPath), launch.ConfigDir)
	assert.Equal(t, 1, f.ensures)
	assert.True(t, f.eng.IsRunning())

	st := loadState(f.statePath)
	assert.Equal(t, f.cfgPath, st.ConfigPath)
	assert.False(t, st.ManuallyStopped)
}

func TestStartUsesConfiguredPathWhenEmpty(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.eng.Start(""))

	require.Len(t, f.daemon.started, 1)
	assert.Equal(t, f.cfgPath, f.daemon.started[0].ConfigPath)
	assert.Equal(t, f.cfgPath, f.eng.ActiveConfigPath())
}

func TestStartMissingConfig(t *testing.T) {
	f := newFixture(t)

	err := f.eng.Start(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "config file not found")
	assert.Empty(t, f.daemon.started)
}

func TestStartRejectsUnparsableConfig(t *testing.T) {
	f := newFixture(t)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("\tnot yaml"), 0640))

	err := f.eng.Start(bad)
	require.ErrorContains(t, err, "failed to parse core config")
	assert.Empty(t, f.daemon.started)
}

func TestStartRollsBackWhenCoreNeverAnswers(t *testing.T) {
	f := newFixture(t)
	f.api.ready = false

	err := f.eng.Start(f.cfgPath)
	require.ErrorContains(t, err, "did not become reachable in user mode")
	assert.GreaterOrEqual(t, f.daemon.stops, 1, "rollback should stop the half-started core")
	assert.Zero(t, loadState(f.statePath).LegacyPID)
}

func TestStopSetsManualFlag(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	require.NoError(t, f.eng.Stop())
	assert.False(t, f.eng.IsRunning())

	// Even a daemon that still claims a core must not override the
	// operator's stop.
	f.daemon.running = true
	assert.False(t, f.eng.IsRunning())

	st := loadState(f.statePath)
	assert.True(t, st.ManuallyStopped)
	assert.Zero(t, st.LegacyPID)
}

func TestStopTerminatesAdoptedProcess(t *testing.T) {
	f := newFixture(t)
	f.setState(func(st *State) { st.LegacyPID = 4242 })
	f.probes.alive[4242] = true

	require.NoError(t, f.eng.Stop())
	assert.Equal(t, []int{4242}, f.probes.termed)
	assert.Zero(t, loadState(f.statePath).LegacyPID)
}

func TestStopServiceModeParksCore(t *testing.T) {
	f := newFixture(t)
	f.setState(func(st *State) { st.Mode = ModeService })
	f.svc.installed = true
	f.svc.loaded = true

	require.NoError(t, f.eng.Stop())

	require.Len(t, f.api.reloads, 1)
	assert.Equal(t, config.StopConfigPath(), f.api.reloads[0])
	assert.Zero(t, f.svc.disables, "parking must not disable the service")

	data, err := os.ReadFile(config.StopConfigPath())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("external-controller: 127.0.0.1:%d\nsecret: 's3'\nmode: rule\n", testControllerPort), string(data))
}

func TestStopServiceModeFallsBackToDisable(t *testing.T) {
	f := newFixture(t)
	f.setState(func(st *State) { st.Mode = ModeService })
	f.svc.installed = true
	f.svc.loaded = true
	f.api.reloadErr = errors.New("api down")

	require.NoError(t, f.eng.Stop())
	assert.Equal(t, 1, f.svc.disables)
}

func TestIsRunningChain(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.eng.IsRunning(), "nothing up yet")

	f.daemon.running = true
	assert.True(t, f.eng.IsRunning(), "daemon-tracked core")
	f.daemon.running = false

	f.setState(func(st *State) { st.LegacyPID = 4242 })
	f.probes.alive[4242] = true
	assert.True(t, f.eng.IsRunning(), "adopted process")
	f.probes.alive[4242] = false

	f.probes.listening[testControllerPort] = 777
	assert.True(t, f.eng.IsRunning(), "listener on the controller port")

	f.setState(func(st *State) { st.ManuallyStopped = true })
	assert.False(t, f.eng.IsRunning(), "manual stop wins over every probe")

	f.setState(func(st *State) {
		st.ManuallyStopped = false
		st.Mode = ModeService
		st.LegacyPID = 0
	})
	delete(f.probes.listening, testControllerPort)
	f.svc.loaded = true
	assert.True(t, f.eng.IsRunning(), "loaded service unit")
}

func TestSwitchModeValidation(t *testing.T) {
	f := newFixture(t)

	require.ErrorContains(t, f.eng.SwitchMode("turbo"), "unknown mode")

	f.eng.transition.Store(true)
	require.ErrorIs(t, f.eng.SwitchMode(ModeService), ErrTransitionInProgress)
	f.eng.transition.Store(false)

	// Switching to the mode already in effect is a no-op.
	require.NoError(t, f.eng.SwitchMode(ModeUser))
	assert.Empty(t, f.daemon.started)
	assert.Zero(t, f.svc.enables)
}

func TestSwitchToService(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	f.svc.installed = true
	f.svc.onEnable = func() { f.probes.listening[testControllerPort] = 555 }

	require.NoError(t, f.eng.SwitchMode(ModeService))

	assert.Equal(t, ModeService, f.eng.Mode())
	assert.GreaterOrEqual(t, f.daemon.stops, 1, "the user-side core must be released")
	assert.Equal(t, 1, f.svc.enables)

	data, err := os.ReadFile(f.svc.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "external-controller")

	assert.Equal(t, ModeService, loadState(f.statePath).Mode)
}

func TestSwitchToServiceRequiresInstall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	err := f.eng.SwitchMode(ModeService)
	require.ErrorIs(t, err, service.ErrNotInstalled)
	assert.Equal(t, ModeUser, f.eng.Mode(), "a failed switch must not change the mode")
}

func TestSwitchToServiceReloadsLoadedUnit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	f.svc.installed = true
	f.svc.loaded = true
	f.probes.listening[testControllerPort] = 555

	require.NoError(t, f.eng.SwitchMode(ModeService))

	assert.Zero(t, f.svc.enables, "a loaded unit is reloaded, not re-enabled")
	assert.Contains(t, f.api.reloads, f.svc.configPath)
	assert.Equal(t, ModeService, f.eng.Mode())
}

func TestSwitchToServiceRestartsUnitWhenReloadFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	f.svc.installed = true
	f.svc.loaded = true
	f.probes.listening[testControllerPort] = 555
	f.api.reloadErr = errors.New("api down")

	require.NoError(t, f.eng.SwitchMode(ModeService))
	assert.Equal(t, 1, f.svc.restarts)
}

func TestSwitchToUser(t *testing.T) {
	f := newFixture(t)
	f.setState(func(st *State) {
		st.Mode = ModeService
		st.ConfigPath = f.cfgPath
	})
	f.svc.installed = true
	f.svc.loaded = true

	require.NoError(t, f.eng.SwitchMode(ModeUser))

	// The service core is parked on the idle config, then the daemon
	// takes over.
	require.NotEmpty(t, f.api.reloads)
	assert.Equal(t, config.StopConfigPath(), f.api.reloads[0])
	assert.FileExists(t, config.StopConfigPath())
	assert.Equal(t, 1, f.ensures)
	require.Len(t, f.daemon.started, 1)
	assert.Equal(t, f.cfgPath, f.daemon.started[0].ConfigPath)

	assert.Equal(t, ModeUser, f.eng.Mode())
	assert.Equal(t, ModeUser, loadState(f.statePath).Mode)
}

func TestSwitchToUserDisablesUnitWhenParkingFails(t *testing.T) {
	f := newFixture(t)
	f.setState(func(st *State) {
		st.Mode = ModeService
		st.ConfigPath = f.cfgPath
	})
	f.svc.installed = true
	f.svc.loaded = true
	f.api.reloadErr = errors.New("api down")

	require.NoError(t, f.eng.SwitchMode(ModeUser))
	assert.Equal(t, 1, f.svc.disables)
	assert.Equal(t, ModeUser, f.eng.Mode())
}

func TestRecoverOrphan(t *testing.T) {
	t.Run("nothing to adopt", func(t *testing.T) {
		f := newFixture(t)
		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.False(t, adopted)
	})

	t.Run("daemon-tracked core is not an orphan", func(t *testing.T) {
		f := newFixture(t)
		f.daemon.running = true
		f.probes.listening[testControllerPort] = 888

		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.False(t, adopted)
	})

	t.Run("tracked legacy pid is not an orphan", func(t *testing.T) {
		f := newFixture(t)
		f.setState(func(st *State) { st.LegacyPID = 888 })
		f.probes.alive[888] = true
		f.probes.listening[testControllerPort] = 888

		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.False(t, adopted)
	})

	t.Run("unknown listener is left alone", func(t *testing.T) {
		f := newFixture(t)
		f.probes.listening[testControllerPort] = 888
		f.api.versionErr = errors.New("401 unauthorized")

		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.False(t, adopted)
		assert.Zero(t, loadState(f.statePath).LegacyPID)
	})

	t.Run("adopts a user-side core", func(t *testing.T) {
		f := newFixture(t)
		f.probes.listening[testControllerPort] = 888

		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.True(t, adopted)

		st := loadState(f.statePath)
		assert.Equal(t, ModeUser, st.Mode)
		assert.Equal(t, 888, st.LegacyPID)
		assert.False(t, st.ManuallyStopped)
		assert.True(t, f.eng.IsRunning())
	})

	t.Run("adopts a service-side core", func(t *testing.T) {
		f := newFixture(t)
		f.svc.loaded = true
		f.probes.listening[testControllerPort] = 888

		adopted, err := f.eng.RecoverOrphan()
		require.NoError(t, err)
		assert.True(t, adopted)

		st := loadState(f.statePath)
		assert.Equal(t, ModeService, st.Mode)
		assert.Zero(t, st.LegacyPID)
		assert.Equal(t, f.svc.configPath, st.ConfigPath)
	})
}

func TestRestartRequiresConfig(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.eng.Restart(), ErrNoActiveConfig)
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	require.NoError(t, f.eng.Restart())
	assert.Len(t, f.daemon.started, 2)
	assert.GreaterOrEqual(t, f.daemon.stops, 1)
	assert.True(t, f.eng.IsRunning())
}

func TestReloadUserMode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	require.NoError(t, f.eng.Reload(""))
	assert.Contains(t, f.api.reloads, f.cfgPath, "the live api handles the reload")
	assert.Empty(t, f.daemon.reloads)
}

func TestReloadFallsBackToDaemon(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Start(f.cfgPath))

	f.api.reloadErr = errors.New("api down")
	require.NoError(t, f.eng.Reload(f.cfgPath))
	assert.Equal(t, []string{f.cfgPath}, f.daemon.reloads)
}

func TestReloadValidation(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.eng.Reload(""), ErrNoActiveConfig)
	require.ErrorContains(t, f.eng.Reload(filepath.Join(t.TempDir(), "nope.yaml")), "config file not found")
}

func TestProxyMode(t *testing.T) {
	f := newFixture(t)

	mode, err := f.eng.ProxyMode()
	require.NoError(t, err)
	assert.Equal(t, "rule", mode)

	require.ErrorContains(t, f.eng.SetProxyMode("turbo"), "unknown proxy mode")
	require.ErrorContains(t, f.eng.SetProxyMode("global"), "core is not running")

	f.daemon.running = true
	require.NoError(t, f.eng.SetProxyMode("global"))
	assert.Equal(t, []string{"global"}, f.api.setModes)
}

func TestStatusAggregation(t *testing.T) {
	f := newFixture(t)

	pid := uint32(777)
	uptime := uint64(63)
	cfgPath := f.cfgPath
	lastErr := "level=error dial failed"
	f.daemon.status = &ipc.CoreStatus{
		Running:    true,
		PID:        &pid,
		UptimeSecs: &uptime,
		ConfigPath: &cfgPath,
		LastError:  &lastErr,
	}

	st := f.eng.Status()
	assert.True(t, st.Running)
	assert.Equal(t, ModeUser, st.Mode)
	assert.Equal(t, 777, st.PID)
	assert.Equal(t, uint64(63), st.UptimeSecs)
	assert.Equal(t, f.cfgPath, st.ConfigPath)
	assert.Equal(t, lastErr, st.LastError)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", testControllerPort), st.APIEndpoint)
	assert.Equal(t, "test-1.0", st.DaemonVersion)
	assert.Equal(t, "v1.19.2", st.CoreVersion)
	assert.Equal(t, "s3", f.apiSecret, "the controller secret comes from the core config")
}

func TestStatusSurvivesDeadDaemon(t *testing.T) {
	f := newFixture(t)
	f.daemon.unavailable = true

	st := f.eng.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.DaemonVersion)
	assert.Empty(t, st.CoreVersion)
}

func TestLogsPassThrough(t *testing.T) {
	f := newFixture(t)
	f.daemon.logs = []ipc.LogEntry{{Timestamp: "2026-01-02T15:04:05Z", Level: ipc.LevelInfo, Message: "proxy listening"}}

	entries, err := f.eng.Logs(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, f.daemon.lastLimit)

	require.NoError(t, f.eng.ClearLogs())
	assert.Equal(t, 1, f.daemon.cleared)
}
