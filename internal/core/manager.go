package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/net2share/proxyman/internal/ipc"
)

const (
	// stopTimeout bounds the graceful-termination wait before SIGKILL.
	stopTimeout = 5 * time.Second
	// restartSettle is slept between stop and start so the core can
	// release its listeners.
	restartSettle = 500 * time.Millisecond
)

// ErrNoConfig is returned by restart and reload when no core has been
// started yet.
var ErrNoConfig = errors.New("no core configuration recorded; start the core first")

// compile-time check
var _ ipc.Handler = (*Manager)(nil)

// Manager owns the core process lifecycle. It implements ipc.Handler, so
// the control server can drive it directly.
type Manager struct {
	collector *Collector
	log       *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	pid     int
	started time.Time
	cfg     *ipc.CoreConfig
	lastErr string
}

// NewManager creates a core manager feeding captured output to collector.
func NewManager(collector *Collector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{collector: collector, log: logger}
}

// StartCore launches the core process. Any previous instance is stopped
// first. Launch failures are recorded so Status can surface them.
func (m *Manager) StartCore(cfg ipc.CoreConfig) error {
	m.StopCore()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.ConfigDir == "" {
		cfg.ConfigDir = filepath.Dir(cfg.ConfigPath)
	}

	if _, err := os.Stat(cfg.CorePath); err != nil {
		m.lastErr = fmt.Sprintf("core binary not found: %s", cfg.CorePath)
		return errors.New(m.lastErr)
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		m.lastErr = fmt.Sprintf("config file not found: %s", cfg.ConfigPath)
		return errors.New(m.lastErr)
	}

	cmd := exec.Command(cfg.CorePath, "-d", cfg.ConfigDir, "-f", cfg.ConfigPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.lastErr = fmt.Sprintf("failed to capture core stdout: %v", err)
		return errors.New(m.lastErr)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.lastErr = fmt.Sprintf("failed to capture core stderr: %v", err)
		return errors.New(m.lastErr)
	}

	if err := cmd.Start(); err != nil {
		m.lastErr = fmt.Sprintf("failed to start core: %v", err)
		return errors.New(m.lastErr)
	}

	done := make(chan struct{})
	go m.readLines(stdout, ipc.LevelInfo)
	go m.readLines(stderr, ipc.LevelError)
	go m.reap(cmd, done)

	cfgCopy := cfg
	m.cmd = cmd
	m.done = done
	m.pid = cmd.Process.Pid
	m.started = time.Now()
	m.cfg = &cfgCopy
	m.lastErr = ""

	m.log.Info("core started", "pid", m.pid, "config", cfg.ConfigPath)
	return nil
}

// StopCore terminates the core process. The tracked pid and start time are
// cleared no matter how the termination goes; stopping an already-stopped
// core is a no-op.
func (m *Manager) StopCore() error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.done
	pid := m.pid
	m.cmd = nil
	m.done = nil
	m.pid = 0
	m.started = time.Time{}
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
		<-done
	} else {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already gone
			return nil
		}
		select {
		case <-done:
		case <-time.After(stopTimeout):
			m.log.Warn("core did not exit in time, killing", "pid", pid)
			cmd.Process.Kill()
			<-done
		}
	}

	m.log.Info("core stopped", "pid", pid)
	return nil
}

// RestartCore stops the core and starts it again with its last launch
// config.
func (m *Manager) RestartCore() error {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if cfg == nil {
		return ErrNoConfig
	}

	if err := m.StopCore(); err != nil {
		return err
	}
	time.Sleep(restartSettle)
	return m.StartCore(*cfg)
}

// ReloadConfig restarts the core on a new config path, keeping the rest of
// the last launch config.
func (m *Manager) ReloadConfig(path string) error {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if cfg == nil {
		return ErrNoConfig
	}

	next := *cfg
	next.ConfigPath = path
	next.ConfigDir = filepath.Dir(path)

	if err := m.StopCore(); err != nil {
		return err
	}
	time.Sleep(restartSettle)
	return m.StartCore(next)
}

// Status returns a snapshot of the supervised core. It reads only tracked
// state and never touches the filesystem or network.
func (m *Manager) Status() ipc.CoreStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ipc.CoreStatus{Running: m.cmd != nil && m.pid > 0}
	if st.Running {
		pid := uint32(m.pid)
		uptime := uint64(time.Since(m.started).Seconds())
		st.PID = &pid
		st.UptimeSecs = &uptime
	}
	if m.cfg != nil {
		path := m.cfg.ConfigPath
		st.ConfigPath = &path
	}
	if m.lastErr != "" {
		lastErr := m.lastErr
		st.LastError = &lastErr
	}
	return st
}

// IsRunning reports whether a core child is tracked.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil && m.pid > 0
}

// Logs returns up to limit recent core log entries.
func (m *Manager) Logs(limit int) []ipc.LogEntry {
	return m.collector.Logs(limit)
}

// ClearLogs empties the log buffer.
func (m *Manager) ClearLogs() {
	m.collector.Clear()
}

// readLines splits a core output stream into log entries, inferring the
// level from line markers with the stream default as fallback.
func (m *Manager) readLines(r io.Reader, fallback string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		m.collector.Send(ipc.LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     InferLevel(line, fallback),
			Message:   line,
		})
	}
}

// reap waits on the child and records unexpected exits. Deliberate stops
// detach the cmd before signaling, so the tracked state is left alone.
func (m *Manager) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != cmd {
		return
	}

	m.cmd = nil
	m.done = nil
	m.pid = 0
	m.started = time.Time{}
	if err != nil {
		m.lastErr = fmt.Sprintf("core exited unexpectedly: %v", err)
	} else {
		m.lastErr = "core exited unexpectedly"
	}
	m.log.Warn("core exited", "error", err)

	m.collector.Send(ipc.LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     ipc.LevelError,
		Message:   m.lastErr,
	})
}
