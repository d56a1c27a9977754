//go:build windows

package ipc

import (
	"net"
	"os"
	"time"

	"github.com/Microsoft/go-winio"
)

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(endpoint, &timeout)
}

func endpointExists(endpoint string) bool {
	_, err := os.Stat(endpoint)
	return err == nil
}

func removeEndpoint(endpoint string) {
	// Named pipes cannot be unlinked; they vanish with their server.
}
