package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an invocation is attempted while the
	// session has no live connection. Nothing was sent.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrConnectionLost is returned for invocations that were sent but whose
	// completion never arrived because the connection dropped. The server may
	// or may not have acted on them.
	ErrConnectionLost = errors.New("realtime: connection lost before completion")

	// ErrSessionClosed is returned once Disconnect was called or the
	// reconnect policy gave up.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrSendBufferFull is returned when the outbound queue is saturated.
	ErrSendBufferFull = errors.New("realtime: send buffer full")

	// ErrNotInRoom is returned by room-scoped operations with no joined room.
	ErrNotInRoom = errors.New("realtime: not joined to a room")
)

// InvocationError carries an error completion sent by the hub.
type InvocationError struct {
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("realtime: %s rejected: %s", e.Method, e.Message)
}
