package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/ipc"
	"github.com/net2share/proxyman/internal/service"
)

// SwitchMode moves the core between user and service supervision. Only
// one switch may run at a time; a second caller gets
// ErrTransitionInProgress instead of queueing.
func (e *Engine) SwitchMode(target string) error {
	if target != ModeUser && target != ModeService {
		return fmt.Errorf("unknown mode: %s", target)
	}
	if !e.transition.CompareAndSwap(false, true) {
		return ErrTransitionInProgress
	}
	defer e.transition.Store(false)

	e.mu.Lock()
	current := e.state.Mode
	e.state.ManuallyStopped = false
	e.mu.Unlock()
	if current == target {
		return nil
	}

	var err error
	if target == ModeService {
		err = e.switchToService()
	} else {
		err = e.switchToUser()
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.state.Mode = target
	err = saveState(e.statePath, e.state)
	e.mu.Unlock()
	return err
}

func (e *Engine) switchToService() error {
	e.mu.Lock()
	cfgPath := e.state.ConfigPath
	e.mu.Unlock()
	if cfgPath == "" {
		cfgPath = e.settings.Core.Config
	}
	if cfgPath == "" {
		return ErrNoActiveConfig
	}

	host, p, secret := e.apiEndpoint()
	e.stopUserSide(p)

	if !e.svc.Installed() {
		return service.ErrNotInstalled
	}
	if err := e.writeSystemConfig(cfgPath); err != nil {
		return err
	}

	if !e.svc.Loaded() {
		if err := e.svc.Enable(); err != nil {
			return err
		}
		time.Sleep(serviceEnableSettle)
	} else if err := e.api(host, p, secret).Reload(context.Background(), e.svc.SystemConfigPath()); err != nil {
		e.log.Warn("reload via api failed, restarting service", "error", err)
		if rerr := e.svc.Restart(); rerr != nil {
			return rerr
		}
	}

	return e.verifySurvived(ModeService)
}

func (e *Engine) switchToUser() error {
	corePath, err := e.corePath()
	if err != nil {
		return err
	}

	e.mu.Lock()
	cfgPath := e.state.ConfigPath
	e.mu.Unlock()
	if cfgPath == "" {
		cfgPath = e.settings.Core.Config
	}
	if cfgPath == "" {
		cfgPath = config.DefaultCoreConfigPath()
	}
	if _, err := os.Stat(cfgPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfgPath)
	}

	host, p, secret := e.apiEndpoint()

	if e.svc.Loaded() {
		if err := e.silentStopService(host, p, secret); err != nil {
			e.log.Warn("silent stop failed, disabling service", "error", err)
			if derr := e.svc.Disable(); derr != nil {
				return fmt.Errorf("failed to release the service core: %w", derr)
			}
		}
		e.probes.WaitFree(p, e.portSettle)
	}

	if err := e.ensure(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	workDir := e.settings.Core.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(cfgPath)
	}
	if err := e.daemon.StartCore(ipc.CoreConfig{
		ConfigPath: cfgPath,
		CorePath:   corePath,
		ConfigDir:  workDir,
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.state.ConfigPath = cfgPath
	e.mu.Unlock()

	return e.verifySurvived(ModeUser)
}

// verifySurvived polls until the core is both detected as running and
// answering its HTTP API. Service starts get a longer window since the
// service manager may still be spawning the process.
func (e *Engine) verifySurvived(mode string) error {
	attempts := userVerifyAttempts
	if mode == ModeService {
		attempts = serviceVerifyAttempts
	}

	host, p, secret := e.apiEndpoint()
	api := e.api(host, p, secret)
	ctx := context.Background()

	for i := 0; i < attempts; i++ {
		time.Sleep(e.verifyInterval)
		if e.IsRunning() && api.Ready(ctx) {
			return nil
		}
	}

	// The start did not take; undo the bookkeeping so stale records do
	// not fool the next attempt.
	e.mu.Lock()
	e.state.LegacyPID = 0
	if err := saveState(e.statePath, e.state); err != nil {
		e.log.Warn("failed to save state during rollback", "error", err)
	}
	e.mu.Unlock()
	if err := e.daemon.StopCore(); err != nil && !errors.Is(err, ipc.ErrUnavailable) {
		e.log.Warn("rollback stop failed", "error", err)
	}

	window := time.Duration(attempts) * e.verifyInterval
	return fmt.Errorf("core did not become reachable in %s mode within %s (api %s:%d)", mode, window, host, p)
}
