package engine

import "context"

// RecoverOrphan adopts a core left running without supervision, for
// example after a daemon crash or an abandoned terminal session. A
// process squatting on the API port is adopted only when it answers the
// controller's version probe; anything else is left alone.
func (e *Engine) RecoverOrphan() (bool, error) {
	e.mu.Lock()
	mode := e.state.Mode
	legacyPID := e.state.LegacyPID
	e.mu.Unlock()

	// Instances we already track are not orphans.
	if mode == ModeService && e.svc.Loaded() {
		return false, nil
	}
	if running, err := e.daemon.IsRunning(); err == nil && running {
		return false, nil
	}
	if legacyPID > 0 && e.probes.Alive(legacyPID) {
		return false, nil
	}

	host, p, secret := e.apiEndpoint()
	pid := e.probes.ListeningPID(p)
	if pid <= 0 {
		return false, nil
	}
	if _, err := e.api(host, p, secret).Version(context.Background()); err != nil {
		e.log.Debug("port occupied but version probe failed, not adopting",
			"port", p, "pid", pid, "error", err)
		return false, nil
	}

	adopted := ModeUser
	if e.svc.Loaded() {
		adopted = ModeService
	}

	e.mu.Lock()
	e.state.Mode = adopted
	e.state.ManuallyStopped = false
	if adopted == ModeService {
		e.state.LegacyPID = 0
		e.state.ConfigPath = e.svc.SystemConfigPath()
	} else {
		e.state.LegacyPID = pid
	}
	err := saveState(e.statePath, e.state)
	e.mu.Unlock()

	e.log.Info("adopted orphaned core", "pid", pid, "mode", adopted)
	return true, err
}
