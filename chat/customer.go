package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cinema-realtime/realtime"
	"cinema-realtime/shared"
)

// CustomerChat is the customer side of the chat. The hub places the
// connection in the customer's own room on connect, so there is nothing to
// join; the identity the connection was opened with is the room key.
type CustomerChat struct {
	conn     realtime.Conn
	identity Identity
	log      *slog.Logger
	tr       *transcript

	offs         []func()
	offReconnect func()
}

// NewCustomerChat creates the chat for identity on conn. The connection
// must have been opened with identity.UserID.
func NewCustomerChat(conn realtime.Conn, identity Identity, logger *slog.Logger) *CustomerChat {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CustomerChat{
		conn:     conn,
		identity: identity,
		log:      logger.With(slog.String("component", "chat"), slog.String("customer", identity.UserID)),
		tr:       newTranscript(),
	}
	c.offs = []func(){
		conn.On(shared.EventReceive, c.onReceive),
		conn.On(shared.EventReceiveChatHistory, c.onHistory),
	}
	c.offReconnect = conn.OnReconnect(func(ctx context.Context) {
		if err := c.Open(ctx); err != nil {
			c.log.Warn("history refresh failed", slog.String("error", err.Error()))
		}
	})
	return c
}

// Identity returns who this chat speaks as.
func (c *CustomerChat) Identity() Identity { return c.identity }

// Open requests the conversation history.
func (c *CustomerChat) Open(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return realtime.ErrNotConnected
	}
	c.tr.expect()
	if err := c.conn.Invoke(ctx, shared.MethodSendChatHistory, c.identity.UserID); err != nil {
		c.tr.abandon()
		return fmt.Errorf("request history: %w", err)
	}
	return nil
}

// Send posts content to support.
func (c *CustomerChat) Send(ctx context.Context, content string) error {
	if !c.conn.IsConnected() {
		return realtime.ErrNotConnected
	}
	return c.conn.Invoke(ctx, shared.MethodSendMessage, content)
}

// Messages returns the conversation.
func (c *CustomerChat) Messages() []shared.ChatMessage { return c.tr.snapshot() }

// Loading reports whether a history push is still awaited.
func (c *CustomerChat) Loading() bool { return c.tr.loading() }

// Changes receives a value after the list changes.
func (c *CustomerChat) Changes() <-chan struct{} { return c.tr.changed }

// Close stops listening.
func (c *CustomerChat) Close() {
	c.offReconnect()
	for _, off := range c.offs {
		off()
	}
}

func (c *CustomerChat) onReceive(args []json.RawMessage) {
	in, err := decodeReceive(args)
	if err != nil {
		c.log.Warn("bad Receive payload", slog.String("error", err.Error()))
		return
	}
	if in.Conversation != c.identity.UserID {
		return
	}
	if !c.tr.append(in.ChatMessage) {
		c.log.Debug("dropped message while awaiting history")
	}
}

func (c *CustomerChat) onHistory(args []json.RawMessage) {
	var msgs []shared.ChatMessage
	if err := shared.DecodeArgs(args, &msgs); err != nil {
		c.log.Warn("bad ReceiveChatHistory payload", slog.String("error", err.Error()))
		return
	}
	c.tr.history(msgs)
}
