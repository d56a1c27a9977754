package ipc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// connTimeout bounds how long a single connection may take to deliver a
// request and accept the response.
const connTimeout = 30 * time.Second

// Handler executes control requests against the supervised core.
// The daemon's core manager implements it.
type Handler interface {
	StartCore(cfg CoreConfig) error
	StopCore() error
	RestartCore() error
	ReloadConfig(path string) error
	Status() CoreStatus
	Logs(limit int) []LogEntry
	ClearLogs()
	IsRunning() bool
}

// Server listens on the daemon endpoint and dispatches control requests
// to a Handler.
type Server struct {
	endpoint string
	handler  Handler
	version  string
	log      *slog.Logger
	listener net.Listener
	wg       sync.WaitGroup

	// ShutdownCh receives one signal when a client asks the daemon to
	// exit.
	ShutdownCh chan struct{}
}

// NewServer creates a new control server.
func NewServer(endpoint, version string, h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		endpoint:   endpoint,
		handler:    h,
		version:    version,
		log:        logger,
		ShutdownCh: make(chan struct{}, 1),
	}
}

// Start begins accepting connections on the endpoint.
func (s *Server) Start() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener, waits for in-flight requests, and removes the
// endpoint.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.cleanup()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

// serveOne reads one framed request, dispatches it, and writes the framed
// response. A non-nil return tells the caller to drop the connection.
func (s *Server) serveOne(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(connTimeout))

	payload, err := ReadFrame(conn)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			s.writeResponse(conn, Errorf(CodeProtocol, "%v", err))
			s.log.Warn("rejected oversized request", "error", err)
		}
		return err
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return s.writeResponse(conn, Errorf(CodeProtocol, "invalid request: %v", err))
	}

	return s.writeResponse(conn, s.dispatch(&req))
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", "error", err)
		return err
	}
	return WriteFrame(conn, data)
}

func (s *Server) dispatch(req *Request) Response {
	switch req.Type {
	case KindPing:
		return Success("Pong")

	case KindGetVersion:
		return SuccessWithVersion(s.version)

	case KindStartCore:
		cfg, err := req.StartCoreConfig()
		if err != nil {
			return Errorf(CodeProtocol, "invalid request: %v", err)
		}
		if err := s.handler.StartCore(cfg); err != nil {
			return Errorf(CodeError, "%v", err)
		}
		return Success("Core started")

	case KindStopCore:
		if err := s.handler.StopCore(); err != nil {
			return Errorf(CodeError, "%v", err)
		}
		return Success("Core stopped")

	case KindRestartCore:
		if err := s.handler.RestartCore(); err != nil {
			return Errorf(CodeError, "%v", err)
		}
		return Success("Core restarted")

	case KindReloadConfig:
		path, err := req.ReloadPath()
		if err != nil {
			return Errorf(CodeProtocol, "invalid request: %v", err)
		}
		if err := s.handler.ReloadConfig(path); err != nil {
			return Errorf(CodeError, "%v", err)
		}
		return Success("Config reloaded")

	case KindGetStatus:
		return SuccessWithStatus(s.handler.Status())

	case KindGetLogs:
		limit, err := req.LogsLimit()
		if err != nil {
			return Errorf(CodeProtocol, "invalid request: %v", err)
		}
		return SuccessWithLogs(s.handler.Logs(limit))

	case KindClearLogs:
		s.handler.ClearLogs()
		return Success("Logs cleared")

	case KindIsRunning:
		return SuccessWithBool(s.handler.IsRunning())

	case KindShutdown:
		if err := s.handler.StopCore(); err != nil {
			s.log.Warn("stop core on shutdown", "error", err)
		}
		select {
		case s.ShutdownCh <- struct{}{}:
		default:
		}
		return Success("Shutting down")

	default:
		return Errorf(CodeProtocol, "unknown request type: %q", req.Type)
	}
}
