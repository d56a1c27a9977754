//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// IsAlive reports whether the pid names a live process.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH").Output()
	if err != nil {
		return false
	}
	// tasklist prints an INFO line instead of a row when nothing matches
	return strings.Contains(string(out), strconv.Itoa(pid))
}

func signalTerm(pid int) error {
	// No SIGTERM on Windows; taskkill without /F asks politely
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid)).Run()
}

func kill(pid int) error {
	return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
}
