// Package server defines the per-connection handler contract, shared error
// values and helpers reused across connection and relay logic.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrConnectionClosed is returned by Send after the connection was closed.
	ErrConnectionClosed = errors.New("server: connection closed")
	// ErrSendBufferFull is returned by Send when the peer's outbound queue is full.
	ErrSendBufferFull = errors.New("server: send buffer full")
)

// ConnHandler receives the lifecycle events of one connection, in order:
// OnOpen once, OnMessage for each inbound text frame, OnClose once.
// OnMessage is never called concurrently for the same connection.
type ConnHandler interface {
	// OnOpen registers the connection. A non-nil error closes it immediately.
	OnOpen() error
	OnMessage(payload []byte)
	OnClose(reason error)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
