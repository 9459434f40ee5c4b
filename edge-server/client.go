package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"cinema-realtime/shared"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = shared.WebSocketWriteTimeout

	// Time allowed to read the next pong message from the peer
	pongWait = shared.WebSocketPongWait

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = shared.WebSocketPingPeriod

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	// Upper bound for one procedure, including the booking service call
	invocationTimeout = 10 * time.Second
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Closed by the hub once the client is in its default groups
	registered chan struct{}

	id     string
	userID string
	name   string
	role   shared.Role

	// Groups the client is in, guarded by hub.mu
	groups map[string]bool

	// The customer room an employee is viewing. Only the read loop touches it.
	chatRoom string

	connectedAt time.Time
	log         *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, id string, who identity) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		registered:  make(chan struct{}),
		id:          id,
		userID:      who.UserID,
		name:        who.Name,
		role:        who.Role,
		groups:      make(map[string]bool),
		connectedAt: time.Now(),
		log:         hub.log.With(slog.String("client", id), slog.String("user", who.UserID)),
	}
}

// serve registers the client and starts its pumps. The read pump runs
// until the peer goes away or ctx is done.
func (c *Client) serve(ctx context.Context) {
	if !c.hub.add(c) {
		c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(ctx)
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.remove(c)
		c.conn.Close()
		c.log.Info("client disconnected", slog.Duration("connected_for", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.onConnected(ctx)

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", slog.String("error", err.Error()))
			}
			return
		}

		// One frame may hold several newline separated messages.
		dec := json.NewDecoder(r)
		for {
			var msg shared.ClientMessage
			if err := dec.Decode(&msg); err != nil {
				if !errors.Is(err, io.EOF) {
					c.log.Warn("error parsing message", slog.String("error", err.Error()))
					c.sendError("Invalid message format")
				}
				break
			}
			c.handleMessage(ctx, &msg)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// onConnected sends employees the customer roster.
func (c *Client) onConnected(ctx context.Context) {
	if c.role != shared.RoleEmployee {
		return
	}
	customers, err := c.hub.chat.Customers(ctx)
	if err != nil {
		c.log.Error("load chat roster", slog.String("error", err.Error()))
		return
	}
	c.emit(shared.EventAllCustomersChatted, customers)
}

// emit queues an event for this client only.
func (c *Client) emit(event string, args ...any) {
	message, err := encodeEvent(event, args...)
	if err != nil {
		c.log.Error("encode event", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	c.hub.sendTo(c, message)
}

func (c *Client) complete(invocationID string, err error) {
	msg := shared.ServerMessage{Type: shared.MessageTypeCompletion, InvocationID: invocationID}
	if err != nil {
		msg.Error = err.Error()
	}
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		c.log.Error("encode completion", slog.String("error", mErr.Error()))
		return
	}
	c.hub.sendTo(c, data)
}

func (c *Client) sendError(errorMsg string) {
	c.emit(shared.EventError, errorMsg)
}
