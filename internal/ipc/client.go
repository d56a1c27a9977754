package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/net2share/proxyman/internal/config"
)

// Options tunes client behavior. Zero fields fall back to defaults.
type Options struct {
	// Timeout bounds one request attempt, dial included.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryDelay is slept before every attempt after the first.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// DefaultOptions returns the standard client tuning.
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Client talks to the daemon. Every request opens its own connection, so a
// Client is safe for concurrent use and holds no state to close.
type Client struct {
	endpoint string
	opts     Options
	log      *slog.Logger
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint string, opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, opts: opts, log: logger}
}

// NewDefault creates a client for the standard daemon endpoint.
func NewDefault() *Client {
	return NewClient(config.SocketPath(), DefaultOptions())
}

// Endpoint returns the daemon endpoint this client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// do sends a request, retrying transport failures. Application errors from
// the daemon are returned immediately; retrying cannot change the answer.
func (c *Client) do(req Request) (*Response, error) {
	if !endpointExists(c.endpoint) {
		return nil, fmt.Errorf("%w: no daemon at %s", ErrUnavailable, c.endpoint)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.opts.RetryDelay)
		}

		resp, err := c.roundTrip(req)
		if err == nil {
			if resp.Code != CodeOK {
				return nil, &RequestError{Code: resp.Code, Message: resp.Message}
			}
			return resp, nil
		}

		lastErr = err
		c.log.Warn("daemon request failed", "type", req.Type, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// roundTrip performs one attempt: dial, write the framed request, read the
// framed response.
func (c *Client) roundTrip(req Request) (*Response, error) {
	conn, err := dial(c.endpoint, c.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.opts.Timeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := WriteFrame(conn, payload); err != nil {
		return nil, mapNetErr("write", err)
	}

	raw, err := ReadFrame(conn)
	if err != nil {
		return nil, mapNetErr("read", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrProtocol, err)
	}
	return &resp, nil
}

// mapNetErr classifies transport failures into the client error kinds.
func mapNetErr(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w during %s", ErrClosed, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetVersion returns the daemon build version.
func (c *Client) GetVersion() (string, error) {
	resp, err := c.do(NewRequest(KindGetVersion))
	if err != nil {
		return "", err
	}
	return resp.VersionData()
}

// StartCore launches the core with the given launch config.
func (c *Client) StartCore(cfg CoreConfig) error {
	req, err := NewStartCore(cfg)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// StopCore terminates the core.
func (c *Client) StopCore() error {
	_, err := c.do(NewRequest(KindStopCore))
	return err
}

// RestartCore restarts the core with its last launch config.
func (c *Client) RestartCore() error {
	_, err := c.do(NewRequest(KindRestartCore))
	return err
}

// ReloadConfig restarts the core on a new config path.
func (c *Client) ReloadConfig(path string) error {
	req, err := NewReloadConfig(path)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// GetStatus returns the core status snapshot.
func (c *Client) GetStatus() (*CoreStatus, error) {
	resp, err := c.do(NewRequest(KindGetStatus))
	if err != nil {
		return nil, err
	}
	return resp.StatusData()
}

// GetLogs returns up to limit recent core log entries in chronological
// order. A limit <= 0 returns everything the daemon holds.
func (c *Client) GetLogs(limit int) ([]LogEntry, error) {
	req, err := NewGetLogs(limit)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.LogsData()
}

// ClearLogs empties the daemon's log buffer.
func (c *Client) ClearLogs() error {
	_, err := c.do(NewRequest(KindClearLogs))
	return err
}

// IsRunning reports whether the daemon tracks a live core process.
func (c *Client) IsRunning() (bool, error) {
	resp, err := c.do(NewRequest(KindIsRunning))
	if err != nil {
		return false, err
	}
	return resp.BoolData()
}

// Ping verifies the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.do(NewRequest(KindPing))
	return err
}

// Shutdown asks the daemon to stop the core and exit.
func (c *Client) Shutdown() error {
	_, err := c.do(NewRequest(KindShutdown))
	return err
}
