//go:build !windows

package ipc

import (
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedListener accepts connections on a throwaway socket and hands each
// one to fn along with its 1-based sequence number.
func scriptedListener(t *testing.T, fn func(conn net.Conn, n int)) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for n := 1; ; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fn(conn, n)
		}
	}()
	return sock
}

// serveResponse answers one framed request on conn and hangs up. It runs on
// the listener goroutine, so it reports nothing back to the test.
func serveResponse(conn net.Conn, resp Response) {
	defer conn.Close()
	if _, err := ReadFrame(conn); err != nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	WriteFrame(conn, data)
}

func TestClientFastFailsWithoutEndpoint(t *testing.T) {
	t.Parallel()
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"), Options{Logger: discardLogger()})

	err := client.Ping()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientRetriesTransportFailures(t *testing.T) {
	t.Parallel()
	var conns atomic.Int32
	sock := scriptedListener(t, func(conn net.Conn, n int) {
		conns.Add(1)
		if n < 3 {
			conn.Close()
			return
		}
		serveResponse(conn, Success("Pong"))
	})

	client := NewClient(sock, Options{
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Logger:     discardLogger(),
	})
	require.NoError(t, client.Ping())
	assert.Equal(t, int32(3), conns.Load())
}

func TestClientDoesNotRetryApplicationErrors(t *testing.T) {
	t.Parallel()
	var conns atomic.Int32
	sock := scriptedListener(t, func(conn net.Conn, n int) {
		conns.Add(1)
		serveResponse(conn, Errorf(CodeError, "boom"))
	})

	client := NewClient(sock, Options{
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Logger:     discardLogger(),
	})

	err := client.Ping()
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeError, reqErr.Code)
	assert.Equal(t, "boom", reqErr.Message)
	assert.Equal(t, int32(1), conns.Load(), "application errors must not be retried")
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	var conns atomic.Int32
	sock := scriptedListener(t, func(conn net.Conn, n int) {
		conns.Add(1)
		conn.Close()
	})

	client := NewClient(sock, Options{
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
		Logger:     discardLogger(),
	})

	err := client.Ping()
	require.Error(t, err)
	assert.Equal(t, int32(2), conns.Load())
}

func TestClientTimesOut(t *testing.T) {
	t.Parallel()
	sock := scriptedListener(t, func(conn net.Conn, n int) {
		defer conn.Close()
		io.ReadAll(conn) // absorb the request, never answer
	})

	client := NewClient(sock, Options{
		Timeout:    100 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Logger:     discardLogger(),
	})

	err := client.Ping()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientOptionDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient("endpoint", Options{MaxRetries: -1})
	assert.Equal(t, 10*time.Second, c.opts.Timeout)
	assert.Equal(t, 3, c.opts.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, c.opts.RetryDelay)

	c = NewClient("endpoint", Options{MaxRetries: 0, Timeout: time.Second})
	assert.Equal(t, 0, c.opts.MaxRetries, "zero retries is a valid choice")
	assert.Equal(t, time.Second, c.opts.Timeout)
}
