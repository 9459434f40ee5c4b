package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"cinema-realtime/shared"
)

// Group names. A connection is in at most one chat group of each kind but
// may watch any number of showtimes.
const (
	groupEmployees = "employees"
)

func showtimeGroup(showtimeID string) string { return "showtime:" + showtimeID }

func chatGroup(customerID string) string { return "chat:" + customerID }

// HubStats tracks statistics for the hub
type HubStats struct {
	TotalClients      int       `json:"total_clients"`
	TotalGroups       int       `json:"total_groups"`
	TotalMessages     int64     `json:"total_messages"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastBroadcastTime time.Time `json:"last_broadcast_time"`
}

// Hub maintains the set of active clients and the groups they belong to,
// and fans events out to groups. Membership changes go through the run
// loop; group joins and broadcasts take the lock directly.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Group name to members
	groups map[string]map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when run returns
	done chan struct{}

	seats SeatService
	chat  ChatStore
	log   *slog.Logger

	// Orders a group's snapshot reads against its live fan-out
	sequence keyedMutex

	stats HubStats

	mu sync.RWMutex
}

func newHub(seats SeatService, chat ChatStore, logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		seats:      seats,
		chat:       chat,
		log:        logger,
		stats: HubStats{
			ConnectedAt: time.Now(),
		},
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			switch client.role {
			case shared.RoleEmployee:
				h.addLocked(client, groupEmployees)
			case shared.RoleCustomer:
				h.addLocked(client, chatGroup(client.userID))
			}
			total := len(h.clients)
			h.stats.TotalClients = total
			h.mu.Unlock()
			close(client.registered)
			h.log.Info("client registered", slog.String("client", client.id), slog.String("user", client.userID),
				slog.String("role", string(client.role)), slog.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for name := range client.groups {
					h.removeLocked(client, name)
				}
				close(client.send)
				h.stats.TotalClients = len(h.clients)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client unregistered", slog.String("client", client.id), slog.Int("total_clients", total))
		}
	}
}

// add registers client and waits until it is a member of its default
// groups. It reports false once the hub has stopped.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
	case <-h.done:
		return false
	}
	select {
	case <-client.registered:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// broadcastToGroups queues an event for every member of any of groups.
// A client in several of the groups receives it once. Queuing happens
// before it returns, so a caller's later sends to one client stay ordered
// behind the broadcast.
func (h *Hub) broadcastToGroups(event string, groups []string, args ...any) int {
	message, err := encodeEvent(event, args...)
	if err != nil {
		h.log.Error("encode event", slog.String("event", event), slog.String("error", err.Error()))
		return 0
	}

	h.mu.Lock()
	seen := make(map[*Client]bool)
	for _, name := range groups {
		for client := range h.groups[name] {
			if seen[client] {
				continue
			}
			seen[client] = true
			h.queueLocked(client, message)
		}
	}
	h.stats.TotalMessages++
	h.stats.LastBroadcastTime = time.Now()
	h.mu.Unlock()

	h.log.Debug("broadcast", slog.String("event", event), slog.Any("groups", groups), slog.Int("clients", len(seen)))
	return len(seen)
}

// sendTo queues a message for one client.
func (h *Hub) sendTo(client *Client, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[client] {
		h.queueLocked(client, message)
	}
}

func (h *Hub) queueLocked(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.log.Warn("client send buffer full, disconnecting", slog.String("client", client.id))
		go h.remove(client)
	}
}

func (h *Hub) joinGroup(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.addLocked(client, name)
	}
}

func (h *Hub) leaveGroup(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, name)
}

func (h *Hub) inGroup(client *Client, name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.groups[name][client]
}

func (h *Hub) addLocked(client *Client, name string) {
	members, ok := h.groups[name]
	if !ok {
		members = make(map[*Client]bool)
		h.groups[name] = members
	}
	members[client] = true
	client.groups[name] = true
	h.stats.TotalGroups = len(h.groups)
}

func (h *Hub) removeLocked(client *Client, name string) {
	delete(client.groups, name)
	if members, ok := h.groups[name]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
	h.stats.TotalGroups = len(h.groups)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.groups = make(map[string]map[*Client]bool)
	h.stats.TotalClients = 0
	h.stats.TotalGroups = 0
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func encodeEvent(event string, args ...any) ([]byte, error) {
	msg, err := shared.NewEvent(event, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
