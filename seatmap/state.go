// Package seatmap keeps the live seat availability of one showtime as seen
// by this client, and turns seat clicks into hold, release and book intents.
//
// The hub is the only authority. Every pushed event overwrites local
// guesses, so an optimistic hold that lost a race corrects itself on the
// next event for that seat.
package seatmap

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"cinema-realtime/shared"
)

// Status of a seat as observed by this client.
type Status int

const (
	Free Status = iota
	HeldByOther
	HeldByMe
	Sold
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case HeldByOther:
		return "held-by-other"
	case HeldByMe:
		return "held-by-me"
	case Sold:
		return "sold"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Seat is a read-only view of one seat.
type Seat struct {
	ID      string
	Type    shared.SeatType
	Status  Status
	HeldBy  string
	Pending bool // set by a local intent the hub has not answered with an event yet
}

// SeatUnavailableError rejects an intent before it reaches the network.
type SeatUnavailableError struct {
	SeatID string
	Status Status
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %s is %s", e.SeatID, e.Status)
}

// ErrNotHolding is returned when releasing or booking a seat this client
// does not hold.
var ErrNotHolding = errors.New("seat is not held by this client")

type prior struct {
	status Status
	heldBy string
}

// State is the seat map of the current showtime room. Events for any other
// room are ignored.
type State struct {
	mu      sync.RWMutex
	self    string
	room    string
	seats   map[string]*Seat
	changed chan struct{}
}

// NewState returns an empty map owned by identity self.
func NewState(self string) *State {
	return &State{
		self:    self,
		seats:   make(map[string]*Seat),
		changed: make(chan struct{}, 1),
	}
}

// Self returns the identity holds are attributed to.
func (s *State) Self() string { return s.self }

// Room returns the showtime the map belongs to, or "" when detached.
func (s *State) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Changes receives a value after any mutation. Notifications coalesce.
func (s *State) Changes() <-chan struct{} { return s.changed }

// Reset empties the map and binds it to room.
func (s *State) Reset(room string) {
	s.mu.Lock()
	s.room = room
	s.seats = make(map[string]*Seat)
	s.mu.Unlock()
	s.notify()
}

// detach stops accepting events but keeps the last observed seats.
func (s *State) detach() {
	s.mu.Lock()
	s.room = ""
	s.mu.Unlock()
}

// Seed loads the seat layout as reported by the booking service.
func (s *State) Seed(room string, seats []shared.Seat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return false
	}
	for _, in := range seats {
		seat := s.entry(in.ID)
		seat.Type = in.Type
		if seat.Status == Sold {
			continue
		}
		switch in.Status {
		case shared.SeatBooked:
			s.setSold(seat)
		case shared.SeatHeld:
			s.setHeld(seat, in.HeldBy)
		default:
			s.setFree(seat)
		}
	}
	s.notify()
	return true
}

// ApplySnapshot replaces every held seat with the payload. Seats held
// locally but missing from the payload become free.
func (s *State) ApplySnapshot(room string, held []shared.HeldSeat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return false
	}

	byID := make(map[string]string, len(held))
	for _, h := range held {
		byID[h.SeatID] = h.HeldBy
	}
	for id, seat := range s.seats {
		if seat.Status == Sold {
			continue
		}
		if by, ok := byID[id]; ok {
			s.setHeld(seat, by)
		} else {
			s.setFree(seat)
		}
	}
	for id, by := range byID {
		if _, ok := s.seats[id]; !ok {
			s.setHeld(s.entry(id), by)
		}
	}
	s.notify()
	return true
}

// ApplyHeld marks each listed seat held, leaving all others untouched.
func (s *State) ApplyHeld(room string, held []shared.HeldSeat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return false
	}
	for _, h := range held {
		seat := s.entry(h.SeatID)
		if seat.Status != Sold {
			s.setHeld(seat, h.HeldBy)
		}
	}
	s.notify()
	return true
}

// ApplyReleased marks one seat free.
func (s *State) ApplyReleased(room, seatID, releasedBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return false
	}
	if seat := s.entry(seatID); seat.Status != Sold {
		s.setFree(seat)
	}
	s.notify()
	return true
}

// ApplyBooked marks seats sold. Sold seats never change again.
func (s *State) ApplyBooked(room string, seatIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return false
	}
	for _, id := range seatIDs {
		s.setSold(s.entry(id))
	}
	s.notify()
	return true
}

// Status returns the status of seatID. Unknown seats are free.
func (s *State) Status(seatID string) Status {
	return s.Seat(seatID).Status
}

// Seat returns a copy of seatID's entry.
func (s *State) Seat(seatID string) Seat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seat, ok := s.seats[seatID]; ok {
		return *seat
	}
	return Seat{ID: seatID, Status: Free}
}

// Seats returns every known seat ordered by id.
func (s *State) Seats() []Seat {
	s.mu.RLock()
	out := make([]Seat, 0, len(s.seats))
	for _, seat := range s.seats {
		out = append(out, *seat)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HeldByMe lists the seats currently attributed to this client.
func (s *State) HeldByMe() []string {
	var ids []string
	for _, seat := range s.Seats() {
		if seat.Status == HeldByMe {
			ids = append(ids, seat.ID)
		}
	}
	return ids
}

// markHeld optimistically holds seatIDs for self. It is all or nothing:
// any seat that is not free rejects the whole request. Returns the
// deduplicated ids and what each seat looked like before.
func (s *State) markHeld(room string, seatIDs []string) ([]string, map[string]prior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return nil, nil, fmt.Errorf("seat map is not bound to room %s", room)
	}

	ids := make([]string, 0, len(seatIDs))
	seen := make(map[string]bool, len(seatIDs))
	for _, id := range seatIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if seat, ok := s.seats[id]; ok && seat.Status != Free {
			return nil, nil, &SeatUnavailableError{SeatID: id, Status: seat.Status}
		}
		ids = append(ids, id)
	}

	priors := make(map[string]prior, len(ids))
	for _, id := range ids {
		seat := s.entry(id)
		priors[id] = prior{status: seat.Status, heldBy: seat.HeldBy}
		seat.Status, seat.HeldBy, seat.Pending = HeldByMe, s.self, true
	}
	s.notify()
	return ids, priors, nil
}

// markReleased optimistically frees a seat held by self.
func (s *State) markReleased(room, seatID string) (map[string]prior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return nil, fmt.Errorf("seat map is not bound to room %s", room)
	}
	seat, ok := s.seats[seatID]
	if !ok || seat.Status != HeldByMe {
		return nil, fmt.Errorf("%w: %s", ErrNotHolding, seatID)
	}
	priors := map[string]prior{seatID: {status: seat.Status, heldBy: seat.HeldBy}}
	seat.Status, seat.HeldBy, seat.Pending = Free, "", true
	s.notify()
	return priors, nil
}

// revert restores seats whose optimistic change no event has overwritten.
func (s *State) revert(room string, priors map[string]prior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepts(room) {
		return
	}
	for id, p := range priors {
		seat, ok := s.seats[id]
		if !ok || !seat.Pending {
			continue
		}
		seat.Status, seat.HeldBy, seat.Pending = p.status, p.heldBy, false
	}
	s.notify()
}

// filter returns the ids in room whose status is want.
func (s *State) filter(room string, ids []string, want Status) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.accepts(room) {
		return nil
	}
	var out []string
	for _, id := range ids {
		status := Free
		if seat, ok := s.seats[id]; ok {
			status = seat.Status
		}
		if status == want {
			out = append(out, id)
		}
	}
	return out
}

func (s *State) accepts(room string) bool {
	return room != "" && room == s.room
}

func (s *State) entry(id string) *Seat {
	seat, ok := s.seats[id]
	if !ok {
		seat = &Seat{ID: id, Type: shared.SeatTypeStandard}
		s.seats[id] = seat
	}
	return seat
}

func (s *State) setHeld(seat *Seat, by string) {
	seat.Status, seat.HeldBy, seat.Pending = HeldByOther, by, false
	if by == s.self {
		seat.Status = HeldByMe
	}
}

func (s *State) setFree(seat *Seat) {
	seat.Status, seat.HeldBy, seat.Pending = Free, "", false
}

func (s *State) setSold(seat *Seat) {
	seat.Status, seat.HeldBy, seat.Pending = Sold, "", false
}

func (s *State) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
