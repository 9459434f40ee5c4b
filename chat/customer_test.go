package chat_test

import (
	"context"
	"testing"

	"cinema-realtime/chat"
	"cinema-realtime/realtime"
	"cinema-realtime/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerChatOpenAndSend(t *testing.T) {
	hub := newHistoryHub()
	hub.histories["guest-1"] = []shared.ChatMessage{msg("guest-1", "is the 9pm show sold out?")}
	c := chat.NewCustomerChat(hub.conn, chat.Identity{UserID: "guest-1", Name: "Guest", Anonymous: true}, nil)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx))
	assert.Equal(t, []string{"is the 9pm show sold out?"}, contents(c.Messages()))

	hub.conn.Reset()
	require.NoError(t, c.Send(ctx, "hello?"))
	calls := hub.conn.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, shared.MethodSendMessage, calls[0].Method)

	hub.receive(shared.ChatMessage{Sender: "Support", Content: "not yet", Time: sentAt, FromUserID: "staff-1"}, "guest-1")
	hub.receive(shared.ChatMessage{Sender: "Support", Content: "for someone else", Time: sentAt, FromUserID: "staff-1"}, "guest-2")
	assert.Equal(t, []string{"is the 9pm show sold out?", "not yet"}, contents(c.Messages()))
}

func TestCustomerChatDropsMessagesWhileLoading(t *testing.T) {
	hub := newHistoryHub()
	hub.answer = false
	c := chat.NewCustomerChat(hub.conn, chat.Identity{UserID: "u9"}, nil)

	require.NoError(t, c.Open(context.Background()))
	assert.True(t, c.Loading())
	hub.receive(msg("u9", "early"), "u9")
	assert.Empty(t, c.Messages())

	hub.conn.Emit(shared.EventReceiveChatHistory, []shared.ChatMessage{msg("u9", "early")})
	assert.Equal(t, []string{"early"}, contents(c.Messages()))
}

func TestCustomerChatOffline(t *testing.T) {
	hub := newHistoryHub()
	c := chat.NewCustomerChat(hub.conn, chat.Identity{UserID: "u9"}, nil)
	hub.conn.Drop()

	assert.ErrorIs(t, c.Open(context.Background()), realtime.ErrNotConnected)
	assert.ErrorIs(t, c.Send(context.Background(), "hi"), realtime.ErrNotConnected)
	assert.False(t, c.Loading())
}

func TestCustomerChatResumesAfterReconnect(t *testing.T) {
	hub := newHistoryHub()
	hub.histories["u9"] = []shared.ChatMessage{msg("u9", "one")}
	c := chat.NewCustomerChat(hub.conn, chat.Identity{UserID: "u9"}, nil)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	hub.conn.Drop()
	hub.histories["u9"] = append(hub.histories["u9"], msg("staff", "two"))
	hub.conn.Reconnect(ctx)

	assert.Equal(t, []string{"one", "two"}, contents(c.Messages()))

	c.Close()
	hub.conn.Reset()
	hub.conn.Reconnect(ctx)
	assert.Empty(t, hub.conn.Methods())
	assert.Zero(t, hub.conn.Handlers(shared.EventReceive))
}
