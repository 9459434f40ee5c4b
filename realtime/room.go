package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cinema-realtime/shared"
)

// RoomMethods names the hub procedures that join and leave one kind of room.
type RoomMethods struct {
	Join  string
	Leave string
}

var (
	// ShowtimeRooms are keyed by showtime id.
	ShowtimeRooms = RoomMethods{Join: shared.MethodJoinGroup, Leave: shared.MethodLeaveGroup}
	// CustomerRooms are chat conversations keyed by customer id.
	CustomerRooms = RoomMethods{Join: shared.MethodSwitchCustomerRoom, Leave: shared.MethodLeaveCustomerRoom}
)

// Room tracks membership of at most one room of a kind on a connection.
//
// Joining always leaves the current room first, so the hub never holds two
// registrations for the same client. Membership is restored after a
// reconnect because the hub forgets it when the socket drops.
type Room struct {
	conn    Conn
	methods RoomMethods
	log     *slog.Logger

	op sync.Mutex // serializes Join and Leave

	mu     sync.RWMutex
	key    string
	joined bool

	offReconnect func()
}

// NewRoom creates an unjoined room on conn. Call Close to drop its
// reconnect hook.
func NewRoom(conn Conn, methods RoomMethods, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Room{
		conn:    conn,
		methods: methods,
		log:     logger.With(slog.String("room_kind", methods.Join)),
	}
	r.offReconnect = conn.OnReconnect(r.rejoin)
	return r
}

// Join makes key the current room, leaving any previous one first.
func (r *Room) Join(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("realtime: empty room key")
	}
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	prev, wasJoined := r.key, r.joined
	r.key, r.joined = "", false
	r.mu.Unlock()

	if wasJoined {
		if err := r.conn.Invoke(ctx, r.methods.Leave, prev); err != nil {
			r.log.Warn("leave before join failed", slog.String("room", prev), slog.String("error", err.Error()))
		}
	}

	if err := r.conn.Invoke(ctx, r.methods.Join, key); err != nil {
		return fmt.Errorf("join room %s: %w", key, err)
	}

	r.mu.Lock()
	r.key, r.joined = key, true
	r.mu.Unlock()
	r.log.Debug("joined room", slog.String("room", key))
	return nil
}

// Leave leaves the current room. The room is considered left even when the
// hub could not be told; the hub also cleans up when the socket closes.
func (r *Room) Leave(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	key, joined := r.key, r.joined
	r.key, r.joined = "", false
	r.mu.Unlock()

	if !joined {
		return nil
	}
	if err := r.conn.Invoke(ctx, r.methods.Leave, key); err != nil {
		r.log.Warn("leave failed", slog.String("room", key), slog.String("error", err.Error()))
		return fmt.Errorf("leave room %s: %w", key, err)
	}
	return nil
}

// Current returns the joined room key. While the connection is down the
// room reports as unjoined.
func (r *Room) Current() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.joined || !r.conn.IsConnected() {
		return "", false
	}
	return r.key, true
}

// Close drops the reconnect hook. It does not leave the room.
func (r *Room) Close() {
	r.offReconnect()
}

func (r *Room) rejoin(ctx context.Context) {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.RLock()
	key, joined := r.key, r.joined
	r.mu.RUnlock()
	if !joined {
		return
	}

	if err := r.conn.Invoke(ctx, r.methods.Join, key); err != nil {
		r.log.Error("rejoin after reconnect failed", slog.String("room", key), slog.String("error", err.Error()))
		r.mu.Lock()
		if r.key == key {
			r.joined = false
		}
		r.mu.Unlock()
		return
	}
	r.log.Info("rejoined room after reconnect", slog.String("room", key))
}
