package ipc

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client. Callers distinguish them with
// errors.Is / errors.As.
var (
	// ErrUnavailable means the daemon endpoint is missing or refused the
	// connection.
	ErrUnavailable = errors.New("service unavailable")

	// ErrTimeout means a request did not complete within the configured
	// deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrProtocol covers malformed frames, unexpected data shapes and
	// connections closed mid-exchange.
	ErrProtocol = errors.New("protocol error")

	// ErrClosed is a protocol error for a connection closed before the
	// response arrived.
	ErrClosed = fmt.Errorf("%w: connection closed", ErrProtocol)

	// ErrPayloadTooLarge rejects frames above MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// RequestError is an application-level failure reported by the daemon.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}
