//go:build windows

package port

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ListeningPID returns the pid of a process LISTENING on the port,
// excluding the current process. Returns 0 when none is found.
// Established client connections to the port never count.
func ListeningPID(port int) int {
	out, err := exec.Command("netstat", "-ano").Output()
	if err != nil {
		return 0
	}

	self := os.Getpid()
	needle := fmt.Sprintf(":%d", port)

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		// Proto LocalAddress ForeignAddress State PID
		if len(fields) < 5 {
			continue
		}
		if !strings.HasSuffix(fields[1], needle) {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || pid <= 0 || pid == self {
			continue
		}
		return pid
	}
	return 0
}
