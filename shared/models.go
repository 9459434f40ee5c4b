package shared

import "time"

// Seat statuses as stored by the booking service
const (
	SeatAvailable = 0
	SeatHeld      = 1
	SeatBooked    = 2
)

// SeatType affects price only, never availability.
type SeatType string

const (
	SeatTypeStandard SeatType = "standard"
	SeatTypeVIP      SeatType = "vip"
	SeatTypeCouple   SeatType = "couple"
)

// Role is the connection role presented to the hub.
type Role string

const (
	RoleCustomer Role = "Customer"
	RoleEmployee Role = "Employee"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleEmployee
}

// Seat represents a single seat of a showtime
type Seat struct {
	ID        string   `json:"id"`
	Row       int      `json:"row"`
	Col       int      `json:"col"`
	Type      SeatType `json:"type"`
	Status    int      `json:"status"`
	HeldBy    string   `json:"held_by,omitempty"`
	ExpiresAt int64    `json:"expires_at,omitempty"` // unix milliseconds
}

// HeldSeat is one entry of a CurrentHeldSeats or SeatsHeld payload.
type HeldSeat struct {
	SeatID string `json:"seatId"`
	HeldBy string `json:"heldBy"`
}

// ChatMessage is one entry of a ReceiveChatHistory payload.
type ChatMessage struct {
	Sender     string    `json:"sender"`
	Content    string    `json:"content"`
	Time       time.Time `json:"time"`
	FromUserID string    `json:"fromUserId"`
}

// ChatCustomer is one entry of an AllCustomersChatted payload.
type ChatCustomer struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// SeatRequest is the body of hold, release and book requests to the booking service
type SeatRequest struct {
	SeatIDs []string `json:"seat_ids" binding:"required,min=1"`
	UserID  string   `json:"user_id" binding:"required"`
}

// SeatResponse is returned by a successful hold, release or book.
type SeatResponse struct {
	ShowtimeID string   `json:"showtime_id"`
	SeatIDs    []string `json:"seat_ids"`
	ExpiresAt  int64    `json:"expires_at,omitempty"` // unix milliseconds, holds only
}

// SeatEvent represents an event for NATS pub/sub
type SeatEvent struct {
	Type       string    `json:"type"` // held, released, booked, auto_released
	ShowtimeID string    `json:"showtime_id"`
	SeatIDs    []string  `json:"seat_ids"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	ExpiresAt  int64     `json:"expires_at,omitempty"`
}

// Seat event types
const (
	SeatEventHeld         = "held"
	SeatEventReleased     = "released"
	SeatEventAutoReleased = "auto_released"
	SeatEventBooked       = "booked"
)

// ErrorResponse represents an error message
type ErrorResponse struct {
	Error string `json:"error"`
}
