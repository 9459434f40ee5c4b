package seatmap

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"cinema-realtime/realtime"
	"cinema-realtime/shared"
)

// Viewer binds a State to a showtime room on a connection. Event handlers
// are registered while a showtime is open and deregistered on Close.
type Viewer struct {
	conn  realtime.Conn
	room  *realtime.Room
	state *State
	log   *slog.Logger

	mu   sync.Mutex
	offs []func()
}

// NewViewer creates a viewer for identity self. A nil logger uses
// slog.Default.
func NewViewer(conn realtime.Conn, self string, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		conn:  conn,
		room:  realtime.NewRoom(conn, realtime.ShowtimeRooms, logger),
		state: NewState(self),
		log:   logger.With(slog.String("component", "seatmap")),
	}
}

// State exposes the seat map for rendering.
func (v *Viewer) State() *State { return v.state }

// Open switches the viewer to showtimeID. The map is cleared first so that
// events still in flight for the previous showtime are dropped, then the
// room is joined and the hub answers with a full snapshot.
func (v *Viewer) Open(ctx context.Context, showtimeID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state.Reset(showtimeID)
	v.subscribe()
	if err := v.room.Join(ctx, showtimeID); err != nil {
		v.state.detach()
		return err
	}
	return nil
}

// Seed loads the layout of the open showtime.
func (v *Viewer) Seed(seats []shared.Seat) {
	v.state.Seed(v.state.Room(), seats)
}

// Close leaves the room and stops listening. Seat holds are not released.
func (v *Viewer) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state.detach()
	err := v.room.Leave(ctx)
	for _, off := range v.offs {
		off()
	}
	v.offs = nil
	return err
}

// Shutdown closes the viewer and releases its reconnect hook.
func (v *Viewer) Shutdown(ctx context.Context) error {
	err := v.Close(ctx)
	v.room.Close()
	return err
}

func (v *Viewer) subscribe() {
	if len(v.offs) > 0 {
		return
	}
	v.offs = []func(){
		v.conn.On(shared.EventCurrentHeldSeats, v.onCurrentHeldSeats),
		v.conn.On(shared.EventSeatsHeld, v.onSeatsHeld),
		v.conn.On(shared.EventSeatReleased, v.onSeatReleased),
		v.conn.On(shared.EventSeatsBooked, v.onSeatsBooked),
		v.conn.On(shared.EventJoinedGroup, v.onJoinedGroup),
	}
}

func (v *Viewer) onCurrentHeldSeats(args []json.RawMessage) {
	var room string
	var held []shared.HeldSeat
	if err := shared.DecodeArgs(args, &room, &held); err != nil {
		v.log.Warn("bad CurrentHeldSeats payload", slog.String("error", err.Error()))
		return
	}
	if !v.state.ApplySnapshot(room, held) {
		v.log.Debug("dropped stale snapshot", slog.String("room", room))
	}
}

func (v *Viewer) onSeatsHeld(args []json.RawMessage) {
	var room string
	var held []shared.HeldSeat
	if err := shared.DecodeArgs(args, &room, &held); err != nil {
		v.log.Warn("bad SeatsHeld payload", slog.String("error", err.Error()))
		return
	}
	if !v.state.ApplyHeld(room, held) {
		v.log.Debug("dropped stale SeatsHeld", slog.String("room", room))
	}
}

func (v *Viewer) onSeatReleased(args []json.RawMessage) {
	var room, seatID, releasedBy string
	if err := shared.DecodeArgs(args, &room, &seatID, &releasedBy); err != nil {
		v.log.Warn("bad SeatReleased payload", slog.String("error", err.Error()))
		return
	}
	if !v.state.ApplyReleased(room, seatID, releasedBy) {
		v.log.Debug("dropped stale SeatReleased", slog.String("room", room))
	}
}

func (v *Viewer) onSeatsBooked(args []json.RawMessage) {
	var room string
	var seatIDs []string
	if err := shared.DecodeArgs(args, &room, &seatIDs); err != nil {
		v.log.Warn("bad SeatsBooked payload", slog.String("error", err.Error()))
		return
	}
	if !v.state.ApplyBooked(room, seatIDs) {
		v.log.Debug("dropped stale SeatsBooked", slog.String("room", room))
	}
}

func (v *Viewer) onJoinedGroup(args []json.RawMessage) {
	var room string
	_ = shared.DecodeArgs(args, &room)
	v.log.Debug("hub acknowledged join", slog.String("room", room))
}
