package ipc

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/net2share/proxyman/internal/config"
)

// DaemonState classifies the daemon for the CLI and the mode supervisor.
type DaemonState int

const (
	// DaemonNotRunning means no daemon answered on the endpoint.
	DaemonNotRunning DaemonState = iota
	// DaemonReady means a daemon with a matching build version answered.
	DaemonReady
	// DaemonNeedsUpgrade means a daemon answered but its build version
	// differs from ours; it should be restarted on the new binary.
	DaemonNeedsUpgrade
)

// DetectDaemon checks if a daemon is answering on the standard endpoint.
// Stale endpoints left by a dead daemon are removed.
func DetectDaemon() (bool, *Client) {
	endpoint := config.SocketPath()

	if !endpointExists(endpoint) {
		return false, nil
	}

	probe := NewClient(endpoint, Options{Timeout: 2 * time.Second, RetryDelay: DefaultOptions().RetryDelay})
	if err := probe.Ping(); err != nil {
		// Endpoint exists but nothing answers
		removeEndpoint(endpoint)
		return false, nil
	}

	return true, NewDefault()
}

// CheckDaemon reports whether a running daemon matches the given build
// version. The second return is the daemon's version when one answered.
func CheckDaemon(buildVersion string) (DaemonState, string) {
	running, client := DetectDaemon()
	if !running {
		return DaemonNotRunning, ""
	}

	v, err := client.GetVersion()
	if err != nil {
		return DaemonNotRunning, ""
	}
	if v != buildVersion {
		return DaemonNeedsUpgrade, v
	}
	return DaemonReady, v
}

// EnsureDaemon returns a client to a running daemon.
// If no daemon is running, it forks one in the background and waits for it
// to become ready.
func EnsureDaemon() (*Client, error) {
	if running, client := DetectDaemon(); running {
		return client, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to determine executable path: %w", err)
	}

	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create config dirs: %w", err)
	}

	logFile, err := os.OpenFile(config.DaemonLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open daemon log: %w", err)
	}

	cmd := exec.Command(exe, "daemon", "run")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = daemonSysProcAttr()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to fork daemon: %w", err)
	}

	// Detach; don't wait for the child
	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	// Poll for daemon readiness
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if running, client := DetectDaemon(); running {
			return client, nil
		}
	}

	return nil, fmt.Errorf("daemon did not start within 10 seconds (check %s)", config.DaemonLogPath())
}
