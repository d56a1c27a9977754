//go:build !windows

package ipc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	mu       sync.Mutex
	started  []CoreConfig
	stops    int
	restarts int
	reloads  []string
	cleared  int
	status   CoreStatus
	logs     []LogEntry
	lastLim  int
	running  bool
	startErr error
}

func (h *fakeHandler) StartCore(cfg CoreConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, cfg)
	return h.startErr
}

func (h *fakeHandler) StopCore() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

func (h *fakeHandler) RestartCore() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restarts++
	return nil
}

func (h *fakeHandler) ReloadConfig(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads = append(h.reloads, path)
	return nil
}

func (h *fakeHandler) Status() CoreStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandler) Logs(limit int) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastLim = limit
	return h.logs
}

func (h *fakeHandler) ClearLogs() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared++
}

func (h *fakeHandler) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer brings up a server on a throwaway socket and returns a
// client wired to it.
func startTestServer(t *testing.T, h *fakeHandler) (*Server, *Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "daemon.sock")

	srv := NewServer(sock, "test-1.0", h, discardLogger())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	client := NewClient(sock, Options{
		Timeout:    2 * time.Second,
		RetryDelay: 10 * time.Millisecond,
		Logger:     discardLogger(),
	})
	return srv, client
}

func TestServerPing(t *testing.T) {
	t.Parallel()
	_, client := startTestServer(t, &fakeHandler{})
	require.NoError(t, client.Ping())
}

func TestServerDispatch(t *testing.T) {
	t.Parallel()
	pid := uint32(1234)
	h := &fakeHandler{
		status:  CoreStatus{Running: true, PID: &pid},
		logs:    []LogEntry{{Timestamp: "2026-01-02T15:04:05Z", Level: LevelInfo, Message: "started"}},
		running: true,
	}
	_, client := startTestServer(t, h)

	version, err := client.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "test-1.0", version)

	cfg := CoreConfig{ConfigPath: "/tmp/c.yaml", CorePath: "/tmp/core", ConfigDir: "/tmp"}
	require.NoError(t, client.StartCore(cfg))
	require.NoError(t, client.StopCore())
	require.NoError(t, client.RestartCore())
	require.NoError(t, client.ReloadConfig("/tmp/next.yaml"))
	require.NoError(t, client.ClearLogs())

	status, err := client.GetStatus()
	require.NoError(t, err)
	assert.True(t, status.Running)
	require.NotNil(t, status.PID)
	assert.Equal(t, pid, *status.PID)

	entries, err := client.GetLogs(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "started", entries[0].Message)

	running, err := client.IsRunning()
	require.NoError(t, err)
	assert.True(t, running)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []CoreConfig{cfg}, h.started)
	assert.Equal(t, 1, h.stops)
	assert.Equal(t, 1, h.restarts)
	assert.Equal(t, []string{"/tmp/next.yaml"}, h.reloads)
	assert.Equal(t, 1, h.cleared)
	assert.Equal(t, 5, h.lastLim)
}

func TestServerHandlerError(t *testing.T) {
	t.Parallel()
	h := &fakeHandler{startErr: os.ErrPermission}
	_, client := startTestServer(t, h)

	err := client.StartCore(CoreConfig{ConfigPath: "/c", CorePath: "/b"})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeError, reqErr.Code)
	assert.Contains(t, reqErr.Message, "permission denied")
}

func TestServerProtocolErrors(t *testing.T) {
	t.Parallel()
	_, client := startTestServer(t, &fakeHandler{})

	t.Run("unknown type", func(t *testing.T) {
		resp, err := roundTripRaw(t, client.Endpoint(), []byte(`{"type":"Reboot"}`))
		require.NoError(t, err)
		assert.Equal(t, CodeProtocol, resp.Code)
		assert.Contains(t, resp.Message, "unknown request type")
	})

	t.Run("bad start payload", func(t *testing.T) {
		resp, err := roundTripRaw(t, client.Endpoint(), []byte(`{"type":"StartCore","payload":{}}`))
		require.NoError(t, err)
		assert.Equal(t, CodeProtocol, resp.Code)
		assert.Contains(t, resp.Message, "config_path and core_path are required")
	})

	t.Run("not json", func(t *testing.T) {
		resp, err := roundTripRaw(t, client.Endpoint(), []byte("garbage"))
		require.NoError(t, err)
		assert.Equal(t, CodeProtocol, resp.Code)
		assert.Contains(t, resp.Message, "invalid request")
	})
}

// roundTripRaw sends one raw frame and decodes the framed response.
func roundTripRaw(t *testing.T, endpoint string, payload []byte) (*Response, error) {
	t.Helper()
	conn, err := net.DialTimeout("unix", endpoint, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	raw, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return &resp, nil
}

func TestServerOneRequestPerConnection(t *testing.T) {
	t.Parallel()
	_, client := startTestServer(t, &fakeHandler{})

	conn, err := net.DialTimeout("unix", client.Endpoint(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, WriteFrame(conn, []byte(`{"type":"Ping"}`)))
	raw, err := ReadFrame(conn)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "Pong", resp.Message)

	// The server hangs up after one exchange.
	WriteFrame(conn, []byte(`{"type":"Ping"}`))
	_, err = ReadFrame(conn)
	assert.Error(t, err)
}

func TestServerShutdownRequest(t *testing.T) {
	t.Parallel()
	h := &fakeHandler{}
	srv, client := startTestServer(t, h)

	require.NoError(t, client.Shutdown())

	select {
	case <-srv.ShutdownCh:
	default:
		t.Fatal("shutdown signal not delivered")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.stops)
}

func TestServerSocketHygiene(t *testing.T) {
	t.Parallel()
	sock := filepath.Join(t.TempDir(), "daemon.sock")

	// A leftover file from a crashed daemon must not block startup.
	require.NoError(t, os.WriteFile(sock, []byte("stale"), 0600))

	srv := NewServer(sock, "test-1.0", &fakeHandler{}, discardLogger())
	require.NoError(t, srv.Start())

	info, err := os.Stat(sock)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	srv.Stop()
	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err), "socket should be removed on stop")
}
