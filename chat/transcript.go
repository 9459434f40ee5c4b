// Package chat implements both ends of the support chat: the staff desk that
// multiplexes many customer conversations over one connection, and the
// customer side bound to a single persisted identity.
package chat

import (
	"encoding/json"
	"errors"
	"sync"

	"cinema-realtime/shared"
)

// ErrNoActiveConversation is returned by Desk.Send before any conversation
// was selected.
var ErrNoActiveConversation = errors.New("chat: no active conversation")

// incoming is a decoded Receive event.
type incoming struct {
	shared.ChatMessage
	// Conversation is the customer the message belongs to. Hubs that do not
	// send it leave it equal to the sender id.
	Conversation string
}

func decodeReceive(args []json.RawMessage) (incoming, error) {
	var in incoming
	if err := shared.DecodeArgs(args, &in.Sender, &in.Content, &in.Time, &in.FromUserID); err != nil {
		return in, err
	}
	in.Conversation = in.FromUserID
	if len(args) > 4 {
		var conv string
		if err := json.Unmarshal(args[4], &conv); err == nil && conv != "" {
			in.Conversation = conv
		}
	}
	return in, nil
}

// transcript is the message list of one displayed conversation.
//
// The list is replaced by a history push and appended to by live messages.
// While a history request is outstanding live messages are dropped: the
// hub stores a message before it fans it out, so the history answer
// already contains it.
type transcript struct {
	mu       sync.Mutex
	messages []shared.ChatMessage
	pending  int
	changed  chan struct{}
}

func newTranscript() *transcript {
	return &transcript{changed: make(chan struct{}, 1)}
}

// expect clears the list and registers one outstanding history request.
func (t *transcript) expect() {
	t.mu.Lock()
	t.messages = nil
	t.pending++
	t.mu.Unlock()
	t.notify()
}

// abandon forgets an outstanding request whose invocation failed.
func (t *transcript) abandon() {
	t.mu.Lock()
	if t.pending > 0 {
		t.pending--
	}
	t.mu.Unlock()
	t.notify()
}

// history applies a history push. Answers to superseded requests are
// discarded; only the answer to the latest request fills the list.
func (t *transcript) history(msgs []shared.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		return false
	}
	t.pending--
	if t.pending > 0 {
		return false
	}
	t.messages = append([]shared.ChatMessage(nil), msgs...)
	t.notify()
	return true
}

// append adds a live message. It reports false when the message was dropped,
// either because history is on its way or because the list already holds it.
func (t *transcript) append(msg shared.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending > 0 || t.containsLocked(msg) {
		return false
	}
	t.messages = append(t.messages, msg)
	t.notify()
	return true
}

// containsLocked matches on sender id, send time and content, newest first.
func (t *transcript) containsLocked(msg shared.ChatMessage) bool {
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if m.FromUserID == msg.FromUserID && m.Time.Equal(msg.Time) && m.Content == msg.Content {
			return true
		}
	}
	return false
}

func (t *transcript) reset() {
	t.mu.Lock()
	t.messages = nil
	t.pending = 0
	t.mu.Unlock()
	t.notify()
}

func (t *transcript) snapshot() []shared.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]shared.ChatMessage(nil), t.messages...)
}

func (t *transcript) loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending > 0
}

func (t *transcript) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
