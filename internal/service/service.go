// Package service integrates with the OS service manager to run the core
// as a privileged system service.
package service

import (
	"errors"
	"os/exec"
)

// Errors shared across platform implementations.
var (
	// ErrUnsupported is returned on platforms without system service
	// integration.
	ErrUnsupported = errors.New("service mode is not supported on this platform")

	// ErrNotInstalled is returned when an operation needs the service
	// unit but none is installed.
	ErrNotInstalled = errors.New("system service is not installed; run 'proxyman service install' first")
)

// Runner executes an external command and returns its combined output.
// Tests inject a fake; production uses exec.Command.
type Runner func(name string, args ...string) ([]byte, error)

func defaultRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Controller manages the core's system service. Implementations shell out
// to the platform service manager.
type Controller interface {
	// Installed reports whether the service unit exists.
	Installed() bool
	// Loaded reports whether the service is active in the service manager.
	Loaded() bool
	// Enable activates the service so the core runs privileged.
	Enable() error
	// Disable deactivates the service.
	Disable() error
	// Restart restarts the privileged core.
	Restart() error
	// Install writes the service unit running the given core binary.
	Install(corePath string) error
	// Uninstall removes the service unit.
	Uninstall() error
	// UnitPath is the service unit (or job definition) location.
	UnitPath() string
	// SystemConfigPath is the well-known config the privileged core reads.
	SystemConfigPath() string
}

// New returns the platform controller.
func New() Controller {
	return newController(defaultRunner)
}
