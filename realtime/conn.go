// Package realtime is the client side of the hub protocol: one persistent
// websocket session per process with automatic reconnection, and room
// membership on top of it.
package realtime

import (
	"context"
	"encoding/json"
)

// Handler receives the positional arguments of a pushed event. Handlers run
// on the session's read loop, one at a time and in delivery order. They must
// not block on Invoke.
type Handler func(args []json.RawMessage)

// Conn is the part of a Session that rooms, seat maps and chat depend on.
type Conn interface {
	// Invoke sends method and waits for its completion.
	Invoke(ctx context.Context, method string, args ...any) error
	// Send sends method without waiting for a completion.
	Send(method string, args ...any) error
	// On registers h for event and returns a func that deregisters it.
	On(event string, h Handler) (off func())
	// OnReconnect registers fn to run after every reconnect, in
	// registration order, and returns a func that deregisters it.
	OnReconnect(fn func(ctx context.Context)) (off func())
	IsConnected() bool
}
