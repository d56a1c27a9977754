//go:build !windows

package port

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ListeningPID returns the pid of a process LISTENING on the port,
// excluding the current process. Returns 0 when none is found or the
// probe tooling is unavailable. Established client connections to the
// port never count.
func ListeningPID(port int) int {
	out, err := exec.Command("lsof", "-nP", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits nonzero when nothing matches
		return 0
	}

	self := os.Getpid()
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 || pid == self {
			continue
		}
		return pid
	}
	return 0
}
