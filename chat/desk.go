package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cinema-realtime/realtime"
	"cinema-realtime/shared"
)

// RosterEntry is a customer who has messaged support.
type RosterEntry struct {
	UserID string
	Name   string
	Unread int
}

// Desk is the staff side of the chat. One conversation is displayed at a
// time; messages for the others only bump their unread count.
type Desk struct {
	conn realtime.Conn
	room *realtime.Room
	log  *slog.Logger
	tr   *transcript

	mu     sync.Mutex
	active string
	roster []RosterEntry

	offs         []func()
	offReconnect func()
}

// NewDesk creates a desk on a connection opened with the Employee role.
func NewDesk(conn realtime.Conn, logger *slog.Logger) *Desk {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Desk{
		conn: conn,
		room: realtime.NewRoom(conn, realtime.CustomerRooms, logger),
		log:  logger.With(slog.String("component", "chat-desk")),
		tr:   newTranscript(),
	}
	d.offs = []func(){
		conn.On(shared.EventReceive, d.onReceive),
		conn.On(shared.EventReceiveChatHistory, d.onHistory),
		conn.On(shared.EventAllCustomersChatted, d.onRoster),
	}
	d.offReconnect = conn.OnReconnect(d.refresh)
	return d
}

// SwitchActiveConversation displays customerID's conversation. The list is
// cleared at once and filled by the history push that follows the join.
func (d *Desk) SwitchActiveConversation(ctx context.Context, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("chat: empty customer id")
	}
	if !d.conn.IsConnected() {
		return realtime.ErrNotConnected
	}

	d.mu.Lock()
	d.active = customerID
	d.markRead(customerID)
	d.tr.expect()
	d.mu.Unlock()

	if err := d.room.Join(ctx, customerID); err != nil {
		d.tr.abandon()
		return err
	}
	if err := d.conn.Invoke(ctx, shared.MethodSendChatHistory, customerID); err != nil {
		d.tr.abandon()
		return fmt.Errorf("request history for %s: %w", customerID, err)
	}
	return nil
}

// Send posts content to the active customer.
func (d *Desk) Send(ctx context.Context, content string) error {
	customerID := d.Active()
	if customerID == "" {
		return ErrNoActiveConversation
	}
	if !d.conn.IsConnected() {
		return realtime.ErrNotConnected
	}
	return d.conn.Invoke(ctx, shared.MethodSendMessageToCustomer, customerID, content)
}

// Active returns the displayed customer id.
func (d *Desk) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Messages returns the displayed conversation.
func (d *Desk) Messages() []shared.ChatMessage { return d.tr.snapshot() }

// Loading reports whether a history push is still awaited.
func (d *Desk) Loading() bool { return d.tr.loading() }

// Changes receives a value after the list or roster changes.
func (d *Desk) Changes() <-chan struct{} { return d.tr.changed }

// Roster returns the customers in the order the hub last reported them,
// followed by any that wrote since.
func (d *Desk) Roster() []RosterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RosterEntry(nil), d.roster...)
}

// Close leaves the active room and stops listening.
func (d *Desk) Close(ctx context.Context) error {
	d.offReconnect()
	for _, off := range d.offs {
		off()
	}
	err := d.room.Leave(ctx)
	d.room.Close()

	d.mu.Lock()
	d.active = ""
	d.mu.Unlock()
	d.tr.reset()
	return err
}

// refresh asks for the active history again after a reconnect. The room
// itself has already been rejoined by its own hook.
func (d *Desk) refresh(ctx context.Context) {
	customerID := d.Active()
	if customerID == "" {
		return
	}
	d.tr.expect()
	if err := d.conn.Invoke(ctx, shared.MethodSendChatHistory, customerID); err != nil {
		d.tr.abandon()
		d.log.Warn("history refresh failed", slog.String("customer", customerID), slog.String("error", err.Error()))
	}
}

func (d *Desk) onReceive(args []json.RawMessage) {
	in, err := decodeReceive(args)
	if err != nil {
		d.log.Warn("bad Receive payload", slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if in.Conversation == d.active {
		if !d.tr.append(in.ChatMessage) {
			d.log.Debug("dropped message while awaiting history", slog.String("customer", in.Conversation))
		}
		return
	}
	i := d.indexOf(in.Conversation)
	if i < 0 {
		d.roster = append(d.roster, RosterEntry{UserID: in.Conversation, Name: in.Sender})
		i = len(d.roster) - 1
	}
	d.roster[i].Unread++
	d.tr.notify()
}

func (d *Desk) onHistory(args []json.RawMessage) {
	var msgs []shared.ChatMessage
	if err := shared.DecodeArgs(args, &msgs); err != nil {
		d.log.Warn("bad ReceiveChatHistory payload", slog.String("error", err.Error()))
		return
	}
	if !d.tr.history(msgs) {
		d.log.Debug("dropped superseded history", slog.Int("messages", len(msgs)))
	}
}

func (d *Desk) onRoster(args []json.RawMessage) {
	var customers []shared.ChatCustomer
	if err := shared.DecodeArgs(args, &customers); err != nil {
		d.log.Warn("bad AllCustomersChatted payload", slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	unread := make(map[string]int, len(d.roster))
	for _, e := range d.roster {
		unread[e.UserID] = e.Unread
	}
	d.roster = make([]RosterEntry, 0, len(customers))
	for _, c := range customers {
		d.roster = append(d.roster, RosterEntry{UserID: c.UserID, Name: c.Name, Unread: unread[c.UserID]})
	}
	d.tr.notify()
}

func (d *Desk) markRead(customerID string) {
	if i := d.indexOf(customerID); i >= 0 {
		d.roster[i].Unread = 0
	}
}

func (d *Desk) indexOf(customerID string) int {
	for i, e := range d.roster {
		if e.UserID == customerID {
			return i
		}
	}
	return -1
}
