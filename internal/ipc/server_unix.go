//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

func (s *Server) listen() (net.Listener, error) {
	// Remove stale socket
	if _, err := os.Stat(s.endpoint); err == nil {
		os.Remove(s.endpoint)
	}

	if err := os.MkdirAll(filepath.Dir(s.endpoint), 0750); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	ln, err := net.Listen("unix", s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.endpoint, err)
	}

	// Restrict socket permissions
	os.Chmod(s.endpoint, 0600)

	return ln, nil
}

func (s *Server) cleanup() {
	os.Remove(s.endpoint)
}

// handleConn serves exactly one request per connection.
func (s *Server) handleConn(conn net.Conn) {
	s.serveOne(conn)
}
