//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

func (s *Server) listen() (net.Listener, error) {
	ln, err := winio.ListenPipe(s.endpoint, &winio.PipeConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.endpoint, err)
	}
	return ln, nil
}

func (s *Server) cleanup() {
	// Named pipes disappear with the listener.
}

// handleConn serves requests on the pipe until the client disconnects.
func (s *Server) handleConn(conn net.Conn) {
	for {
		if err := s.serveOne(conn); err != nil {
			return
		}
	}
}
