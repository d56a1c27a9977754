//go:build !windows

package ipc

import (
	"net"
	"os"
	"time"
)

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func endpointExists(endpoint string) bool {
	_, err := os.Stat(endpoint)
	return err == nil
}

func removeEndpoint(endpoint string) {
	os.Remove(endpoint)
}
