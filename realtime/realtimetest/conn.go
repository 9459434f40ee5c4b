// Package realtimetest provides an in-memory realtime.Conn for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"

	"cinema-realtime/realtime"
	"cinema-realtime/shared"
)

// Call is one recorded invocation or send.
type Call struct {
	Method string
	Args   []json.RawMessage
}

// Arg decodes argument i into dst and panics on failure.
func (c Call) Arg(i int, dst any) {
	if err := json.Unmarshal(c.Args[i], dst); err != nil {
		panic(err)
	}
}

type handlerEntry struct{ fn realtime.Handler }

type hookEntry struct{ fn func(context.Context) }

// Conn records calls and lets tests push events synchronously, as if they
// arrived on the session's read loop.
type Conn struct {
	mu        sync.Mutex
	connected bool
	calls     []Call
	failures  map[string][]error
	handlers  map[string][]*handlerEntry
	hooks     []*hookEntry

	// OnInvoke, when set, runs for every Invoke after it is recorded and
	// its result is returned. It may call Emit.
	OnInvoke func(method string, args []json.RawMessage) error
}

// NewConn returns a connected fake.
func NewConn() *Conn {
	return &Conn{
		connected: true,
		failures:  make(map[string][]error),
		handlers:  make(map[string][]*handlerEntry),
	}
}

func (c *Conn) Invoke(ctx context.Context, method string, args ...any) error {
	raw, err := shared.EncodeArgs(args...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return realtime.ErrNotConnected
	}
	c.calls = append(c.calls, Call{Method: method, Args: raw})
	var failure error
	if q := c.failures[method]; len(q) > 0 {
		failure = q[0]
		c.failures[method] = q[1:]
	}
	hook := c.OnInvoke
	c.mu.Unlock()

	if failure != nil {
		return failure
	}
	if hook != nil {
		return hook(method, raw)
	}
	return nil
}

func (c *Conn) Send(method string, args ...any) error {
	return c.Invoke(context.Background(), method, args...)
}

func (c *Conn) On(event string, h realtime.Handler) func() {
	e := &handlerEntry{fn: h}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], e)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.handlers[event]
		for i, x := range list {
			if x == e {
				c.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) OnReconnect(fn func(context.Context)) func() {
	e := &hookEntry{fn: fn}
	c.mu.Lock()
	c.hooks = append(c.hooks, e)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, x := range c.hooks {
			if x == e {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Drop marks the connection as down.
func (c *Conn) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Reconnect marks the connection as up and runs the reconnect hooks in
// registration order before returning.
func (c *Conn) Reconnect(ctx context.Context) {
	c.mu.Lock()
	c.connected = true
	hooks := append([]*hookEntry(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h.fn(ctx)
	}
}

// FailNext makes the next Invoke of method return err.
func (c *Conn) FailNext(method string, err error) {
	c.mu.Lock()
	c.failures[method] = append(c.failures[method], err)
	c.mu.Unlock()
}

// Emit delivers event to the registered handlers in order.
func (c *Conn) Emit(event string, args ...any) {
	raw, err := shared.EncodeArgs(args...)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	list := append([]*handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range list {
		h.fn(raw)
	}
}

// Calls returns the recorded calls.
func (c *Conn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Methods returns the method names of the recorded calls, in order.
func (c *Conn) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Method
	}
	return out
}

// Handlers reports how many handlers are registered for event.
func (c *Conn) Handlers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Reset forgets recorded calls.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

var _ realtime.Conn = (*Conn)(nil)
