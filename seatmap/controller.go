package seatmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"cinema-realtime/realtime"
	"cinema-realtime/shared"
)

// Controller turns seat clicks into intents. Holds and releases are shown
// immediately and reconciled by the hub's events. There is no client-side
// hold timer; expiry arrives as SeatReleased.
type Controller struct {
	conn  realtime.Conn
	state *State
	log   *slog.Logger

	mu           sync.Mutex
	lostRoom     string
	lostHolds    map[string]struct{}
	lostReleases map[string]struct{}

	offReconnect func()
}

// NewController creates a controller for v. Create it after the viewer so
// that its reconnect hook runs after the room has been rejoined.
func NewController(v *Viewer) *Controller {
	c := &Controller{
		conn:         v.conn,
		state:        v.state,
		log:          v.log,
		lostHolds:    make(map[string]struct{}),
		lostReleases: make(map[string]struct{}),
	}
	c.offReconnect = v.conn.OnReconnect(c.reissue)
	return c
}

// Close drops the reconnect hook.
func (c *Controller) Close() { c.offReconnect() }

// RequestHold holds seatIDs for this client. Only free seats can be
// requested; anything else fails with *SeatUnavailableError before any
// network call.
func (c *Controller) RequestHold(ctx context.Context, seatIDs ...string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	room := c.state.Room()
	if room == "" {
		return realtime.ErrNotInRoom
	}
	if !c.conn.IsConnected() {
		return realtime.ErrNotConnected
	}

	ids, priors, err := c.state.markHeld(room, seatIDs)
	if err != nil {
		return err
	}
	err = c.conn.Invoke(ctx, shared.MethodHoldSeats, room, ids)
	return c.settle(room, ids, priors, c.lostHolds, shared.MethodHoldSeats, err)
}

// RequestRelease gives back a seat held by this client.
func (c *Controller) RequestRelease(ctx context.Context, seatID string) error {
	room := c.state.Room()
	if room == "" {
		return realtime.ErrNotInRoom
	}
	if !c.conn.IsConnected() {
		return realtime.ErrNotConnected
	}

	priors, err := c.state.markReleased(room, seatID)
	if err != nil {
		return err
	}
	err = c.conn.Invoke(ctx, shared.MethodReleaseSeat, room, seatID)
	return c.settle(room, []string{seatID}, priors, c.lostReleases, shared.MethodReleaseSeat, err)
}

// Book converts seats held by this client into sold seats. Nothing changes
// locally until the hub announces SeatsBooked.
func (c *Controller) Book(ctx context.Context, seatIDs ...string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	room := c.state.Room()
	if room == "" {
		return realtime.ErrNotInRoom
	}
	if !c.conn.IsConnected() {
		return realtime.ErrNotConnected
	}
	if held := c.state.filter(room, seatIDs, HeldByMe); len(held) != len(seatIDs) {
		return fmt.Errorf("%w: book %v", ErrNotHolding, seatIDs)
	}
	return c.conn.Invoke(ctx, shared.MethodBookSeats, room, seatIDs)
}

// settle decides what an intent's outcome means for local state. Lost
// intents are kept for reissue; rejected ones are rolled back unless an
// event already corrected them.
func (c *Controller) settle(room string, ids []string, priors map[string]prior, lost map[string]struct{}, method string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, realtime.ErrConnectionLost):
		c.mu.Lock()
		if c.lostRoom != room {
			c.lostRoom = room
			clear(c.lostHolds)
			clear(c.lostReleases)
		}
		for _, id := range ids {
			lost[id] = struct{}{}
		}
		c.mu.Unlock()
		c.log.Warn("intent unacknowledged, will reissue after reconnect",
			slog.String("method", method), slog.String("room", room), slog.Any("seats", ids))
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		c.state.revert(room, priors)
		c.log.Info("intent rejected", slog.String("method", method), slog.Any("seats", ids), slog.String("error", err.Error()))
		return err
	}
}

// reissue resends intents lost to a dropped connection, skipping seats the
// fresh snapshot shows are no longer eligible.
func (c *Controller) reissue(ctx context.Context) {
	c.mu.Lock()
	room := c.lostRoom
	holds := keys(c.lostHolds)
	releases := keys(c.lostReleases)
	c.lostRoom = ""
	clear(c.lostHolds)
	clear(c.lostReleases)
	c.mu.Unlock()

	if room == "" || room != c.state.Room() {
		return
	}
	if ids := c.state.filter(room, holds, Free); len(ids) > 0 {
		if err := c.RequestHold(ctx, ids...); err != nil {
			c.log.Warn("reissued hold failed", slog.Any("seats", ids), slog.String("error", err.Error()))
		}
	}
	for _, id := range c.state.filter(room, releases, HeldByMe) {
		if err := c.RequestRelease(ctx, id); err != nil {
			c.log.Warn("reissued release failed", slog.String("seat", id), slog.String("error", err.Error()))
		}
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
