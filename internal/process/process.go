// Package process provides liveness probes and termination for external
// processes the manager tracks by pid, such as adopted orphan cores.
package process

import (
	"fmt"
	"os"
	"time"
)

// terminatePoll is the interval at which Terminate re-checks liveness
// while waiting out the grace period.
const terminatePoll = 100 * time.Millisecond

// Terminate asks the process to exit and escalates to a hard kill when it
// outlives the grace period. Terminating the current process is refused.
func Terminate(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to terminate own process (pid %d)", pid)
	}

	if !IsAlive(pid) {
		return nil
	}

	if err := signalTerm(pid); err != nil {
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return nil
		}
		time.Sleep(terminatePoll)
	}

	return kill(pid)
}
