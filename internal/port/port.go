// Package port provides local TCP port probes.
package port

import (
	"fmt"
	"net"
	"time"
)

// IsAvailable checks if a port is available for binding.
func IsAvailable(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// InUse reports whether something holds the port.
func InUse(port int) bool {
	return !IsAvailable(port)
}

// GetAvailable finds an available port.
func GetAvailable() (int, error) {
	// Let the OS assign a port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find available port: %w", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// WaitFree polls until the port is released or the timeout passes.
func WaitFree(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if IsAvailable(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
