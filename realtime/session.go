package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cinema-realtime/shared"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = shared.WebSocketWriteTimeout

	// Time allowed between messages or pings from the hub
	pongWait = shared.WebSocketPongWait

	// Maximum message size allowed from the hub
	maxMessageSize = 512 * 1024

	defaultSendBuffer = 64
)

// Config parameterizes a Session. Identity and role are fixed for the
// lifetime of the session and come from the caller, never from the wire.
type Config struct {
	URL    string // ws:// or wss:// endpoint of the hub
	UserID string
	Name   string
	Role   shared.Role
	Token  string // optional bearer token presented on every dial

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int // consecutive failed dials before giving up; 0 retries forever
	SendBuffer  int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

type pendingCall struct {
	method string
	done   chan error
}

type handlerEntry struct{ fn Handler }

type hookEntry struct{ fn func(context.Context) }

// Session owns exactly one connection to the hub and keeps it alive.
type Session struct {
	cfg    Config
	url    string
	header http.Header
	log    *slog.Logger

	connected atomic.Bool
	started   atomic.Bool

	mu       sync.Mutex
	send     chan []byte
	pending  map[string]pendingCall
	nextID   uint64
	handlers map[string][]*handlerEntry
	hooks    []*hookEntry
	up       chan struct{} // closed while connected

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession validates cfg and prepares a session. Nothing is dialed until
// Connect.
func NewSession(cfg Config) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("realtime: user id is required")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("realtime: invalid role %q", cfg.Role)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(shared.QueryRole, string(cfg.Role))
	q.Set(shared.QueryUserID, cfg.UserID)
	if cfg.Name != "" {
		q.Set(shared.QueryName, cfg.Name)
	}
	u.RawQuery = q.Encode()

	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = shared.ReconnectMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = shared.ReconnectMaxBackoff
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		url:      u.String(),
		header:   header,
		log:      cfg.Logger.With(slog.String("user_id", cfg.UserID), slog.String("role", string(cfg.Role))),
		pending:  make(map[string]pendingCall),
		handlers: make(map[string][]*handlerEntry),
		up:       make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Connect starts the connection loop and waits until the first connection
// is up. If ctx ends first the loop keeps retrying in the background and
// ctx.Err() is returned.
func (s *Session) Connect(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
	return s.WaitConnected(ctx)
}

// WaitConnected blocks until the session is connected.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	up := s.up
	s.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether a connection is currently up.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// Done is closed when the session stops for good.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Disconnect closes the connection, stops reconnecting and fails all
// in-flight invocations. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.closeOnce.Do(s.cancel)
	if s.started.Load() {
		<-s.done
	}
}

// On registers h for event. Handlers for the same event run in registration
// order.
func (s *Session) On(event string, h Handler) func() {
	e := &handlerEntry{fn: h}
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], e)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.handlers[event]
			for i, x := range list {
				if x == e {
					s.handlers[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
		})
	}
}

// OnReconnect registers fn to run after each successful reconnect. Hooks run
// sequentially on their own goroutine, so they may call Invoke.
func (s *Session) OnReconnect(fn func(context.Context)) func() {
	e := &hookEntry{fn: fn}
	s.mu.Lock()
	s.hooks = append(s.hooks, e)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, x := range s.hooks {
				if x == e {
					s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
					break
				}
			}
		})
	}
}

// Invoke sends method with args and waits for the hub's completion.
func (s *Session) Invoke(ctx context.Context, method string, args ...any) error {
	done := make(chan error, 1)
	id, err := s.enqueue(method, args, done)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Send sends method with args without waiting for a completion.
func (s *Session) Send(method string, args ...any) error {
	_, err := s.enqueue(method, args, nil)
	return err
}

func (s *Session) enqueue(method string, args []any, done chan error) (string, error) {
	if s.ctx.Err() != nil {
		return "", ErrSessionClosed
	}
	raw, err := shared.EncodeArgs(args...)
	if err != nil {
		return "", fmt.Errorf("realtime: encode %s: %w", method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return "", ErrNotConnected
	}

	msg := shared.ClientMessage{
		Type:      shared.MessageTypeInvocation,
		Target:    method,
		Arguments: raw,
	}
	if done != nil {
		s.nextID++
		msg.InvocationID = strconv.FormatUint(s.nextID, 10)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("realtime: marshal %s: %w", method, err)
	}

	select {
	case s.send <- data:
	default:
		return "", ErrSendBufferFull
	}
	if done != nil {
		s.pending[msg.InvocationID] = pendingCall{method: method, done: done}
	}
	return msg.InvocationID, nil
}

// run dials with exponential backoff and serves each connection until it
// drops, for as long as the session is open.
func (s *Session) run() {
	defer close(s.done)

	backoff := s.cfg.MinBackoff
	attempts := 0
	reconnect := false
	for {
		conn, _, err := s.cfg.Dialer.DialContext(s.ctx, s.url, s.header)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			attempts++
			if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
				s.log.Error("giving up on hub connection", slog.Int("attempts", attempts), slog.String("error", err.Error()))
				return
			}
			s.log.Warn("dial failed", slog.String("error", err.Error()), slog.Duration("backoff", backoff))
			if !s.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}

		attempts = 0
		backoff = s.cfg.MinBackoff
		s.serve(conn, reconnect)
		reconnect = true

		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("connection lost, reconnecting")
		if !s.sleep(s.cfg.MinBackoff) {
			return
		}
	}
}

func (s *Session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) serve(conn *websocket.Conn, reconnect bool) {
	send := make(chan []byte, s.cfg.SendBuffer)
	s.mu.Lock()
	s.send = send
	s.connected.Store(true)
	close(s.up)
	s.mu.Unlock()
	s.log.Info("connected to hub", slog.Bool("reconnect", reconnect))

	stop := make(chan struct{})
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	writerDone := make(chan struct{})
	go s.writePump(conn, send, writerDone)
	if reconnect {
		go s.runReconnectHooks()
	}

	s.readPump(conn)
	close(stop)

	s.mu.Lock()
	s.connected.Store(false)
	s.up = make(chan struct{})
	s.send = nil
	close(send)
	pending := s.pending
	s.pending = make(map[string]pendingCall)
	s.mu.Unlock()

	<-writerDone
	_ = conn.Close()
	for _, p := range pending {
		p.done <- ErrConnectionLost
	}
}

// readPump pumps messages from the websocket connection to the handlers
func (s *Session) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		// The hub may batch several messages into one frame.
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var msg shared.ServerMessage
			if err := dec.Decode(&msg); err != nil {
				if err != io.EOF {
					s.log.Warn("malformed message from hub", slog.String("error", err.Error()))
				}
				break
			}
			s.dispatch(&msg)
		}
	}
}

// writePump pumps queued messages to the websocket connection
func (s *Session) writePump(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Warn("websocket write failed", slog.String("error", err.Error()))
			_ = conn.Close()
			for range send {
			}
			return
		}
	}
}

func (s *Session) dispatch(msg *shared.ServerMessage) {
	switch msg.Type {
	case shared.MessageTypeCompletion:
		s.mu.Lock()
		p, ok := s.pending[msg.InvocationID]
		delete(s.pending, msg.InvocationID)
		s.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != "" {
			p.done <- &InvocationError{Method: p.method, Message: msg.Error}
		} else {
			p.done <- nil
		}

	case shared.MessageTypeEvent:
		if msg.Target == shared.EventError {
			var text string
			_ = shared.DecodeArgs(msg.Arguments, &text)
			s.log.Warn("hub reported an error", slog.String("message", text))
		}
		s.mu.Lock()
		list := append([]*handlerEntry(nil), s.handlers[msg.Target]...)
		s.mu.Unlock()
		for _, h := range list {
			h.fn(msg.Arguments)
		}

	default:
		s.log.Debug("ignoring message", slog.String("type", msg.Type))
	}
}

func (s *Session) runReconnectHooks() {
	s.mu.Lock()
	hooks := append([]*hookEntry(nil), s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		if s.ctx.Err() != nil {
			return
		}
		h.fn(s.ctx)
	}
}
